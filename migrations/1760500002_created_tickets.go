package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		tickets := core.NewBaseCollection("tickets")
		tickets.Fields.Add(
			&core.TextField{Name: "event_id", Required: true},
			&core.TextField{Name: "tier_id", Required: true},
			&core.TextField{Name: "user_id", Required: true},
			&core.DateField{Name: "date"},
			&core.TextField{Name: "session_id"},
			&core.TextField{Name: "payment_intent_id"},
			&core.TextField{Name: "ticket_uuid", Required: true},
			&core.TextField{Name: "qr_code"},
			&core.SelectField{Name: "refund_status", MaxSelect: 1, Values: []string{"NONE", "PROCESSED", "PARTIAL_REFUND"}},
			&core.NumberField{Name: "refund_amount"},
			&core.TextField{Name: "refund_id"},
			&core.DateField{Name: "refund_processed_at"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		tickets.AddIndex("idx_tickets_uuid", true, "ticket_uuid", "")
		tickets.AddIndex("idx_tickets_user", false, "user_id, created", "")
		tickets.AddIndex("idx_tickets_session", false, "session_id", "")
		tickets.AddIndex("idx_tickets_payment", false, "payment_intent_id", "")
		if err := app.Save(tickets); err != nil {
			return err
		}

		failed := core.NewBaseCollection("failed_payment_attempts")
		failed.Fields.Add(
			&core.TextField{Name: "user_id", Required: true},
			&core.TextField{Name: "event_id"},
			&core.TextField{Name: "session_id"},
			&core.TextField{Name: "reason"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		failed.AddIndex("idx_failed_payment_attempts_user", false, "user_id, created", "")
		return app.Save(failed)
	}, func(app core.App) error {
		for _, name := range []string{"failed_payment_attempts", "tickets"} {
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
