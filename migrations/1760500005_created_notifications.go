package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		notifications := core.NewBaseCollection("notifications")
		notifications.ListRule = types.Pointer("user_id = @request.auth.id")
		notifications.ViewRule = types.Pointer("user_id = @request.auth.id")
		notifications.Fields.Add(
			&core.TextField{Name: "user_id", Required: true},
			&core.SelectField{Name: "type", MaxSelect: 1, Values: []string{"SECURITY", "REFUND"}},
			&core.TextField{Name: "message"},
			&core.BoolField{Name: "read"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		notifications.AddIndex("idx_notifications_user", false, "user_id, created", "")
		if err := app.Save(notifications); err != nil {
			return err
		}

		audits := core.NewBaseCollection("security_audits")
		audits.Fields.Add(
			&core.TextField{Name: "user_id", Required: true},
			&core.TextField{Name: "event_id"},
			&core.TextField{Name: "reason"},
			&core.JSONField{Name: "features"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		return app.Save(audits)
	}, func(app core.App) error {
		for _, name := range []string{"security_audits", "notifications"} {
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
