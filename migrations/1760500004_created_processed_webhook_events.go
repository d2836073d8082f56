package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("processed_webhook_events")
		collection.Fields.Add(
			&core.TextField{Name: "provider", Required: true},
			&core.TextField{Name: "event_id", Required: true},
			&core.TextField{Name: "event_type"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		collection.AddIndex("idx_processed_webhook_events_key", true, "provider, event_id", "")
		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("processed_webhook_events")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
