package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		points := core.NewBaseCollection("user_points")
		points.Fields.Add(
			&core.TextField{Name: "user_id", Required: true},
			&core.NumberField{Name: "available_points", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.NumberField{Name: "total_points_earned", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.NumberField{Name: "available_discount_amount", Min: types.Pointer(0.0)},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		// the upserts in internal/store conflict on this index
		points.AddIndex("idx_user_points_user", true, "user_id", "")
		if err := app.Save(points); err != nil {
			return err
		}

		history := core.NewBaseCollection("points_history")
		history.Fields.Add(
			&core.TextField{Name: "user_id", Required: true},
			&core.SelectField{Name: "action", MaxSelect: 1, Values: []string{"EARNED", "SPENT"}},
			&core.NumberField{Name: "points", OnlyInt: true},
			&core.TextField{Name: "event_id"},
			&core.TextField{Name: "ticket_id"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		history.AddIndex("idx_points_history_user", false, "user_id, action, created", "")
		return app.Save(history)
	}, func(app core.App) error {
		for _, name := range []string{"points_history", "user_points"} {
			collection, err := app.FindCollectionByNameOrId(name)
			if err != nil {
				return err
			}
			if err := app.Delete(collection); err != nil {
				return err
			}
		}
		return nil
	})
}
