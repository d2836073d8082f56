package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		events := core.NewBaseCollection("events")
		events.ListRule = types.Pointer("")
		events.ViewRule = types.Pointer("")
		events.Fields.Add(
			&core.TextField{Name: "title", Required: true, Max: 200},
			&core.EditorField{Name: "description"},
			&core.URLField{Name: "image"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		if err := app.Save(events); err != nil {
			return err
		}

		dates := core.NewBaseCollection("event_dates")
		dates.ListRule = types.Pointer("")
		dates.ViewRule = types.Pointer("")
		dates.Fields.Add(
			&core.TextField{Name: "event_id", Required: true},
			&core.DateField{Name: "date", Required: true},
			&core.TextField{Name: "location"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		dates.AddIndex("idx_event_dates_event", false, "event_id, date", "")
		if err := app.Save(dates); err != nil {
			return err
		}

		tiers := core.NewBaseCollection("pricing_tiers")
		tiers.ListRule = types.Pointer("")
		tiers.ViewRule = types.Pointer("")
		tiers.Fields.Add(
			&core.TextField{Name: "event_id", Required: true},
			&core.TextField{Name: "event_date_id"},
			&core.TextField{Name: "name", Required: true},
			&core.NumberField{Name: "price", Min: types.Pointer(0.0)},
			&core.NumberField{Name: "capacity", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.SelectField{Name: "refund_policy", MaxSelect: 1, Values: []string{"NO_REFUND", "FULL_REFUND", "PARTIAL_REFUND"}},
			&core.NumberField{Name: "refund_days", OnlyInt: true, Min: types.Pointer(0.0)},
			&core.NumberField{Name: "refund_percentage", Min: types.Pointer(0.0), Max: types.Pointer(100.0)},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		tiers.AddIndex("idx_pricing_tiers_event", false, "event_id", "")
		return app.Save(tiers)
	}, func(app core.App) error {
		for _, name := range []string{"pricing_tiers", "event_dates", "events"} {
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
