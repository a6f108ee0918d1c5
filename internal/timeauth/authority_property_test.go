package timeauth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/tallyline/tallyline/internal/config"
	"github.com/tallyline/tallyline/internal/linker"
	"github.com/tallyline/tallyline/internal/quarantine"
	"github.com/tallyline/tallyline/pkg/types"
)

// TestProperty_TimestampAuthority checks that a fabricated "ts" field inside
// the raw payload can never become the resolved timestamp: the result is
// either null (unmatched) or equal to the authoritative interaction time.
func TestProperty_TimestampAuthority(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("payload-embedded time is never authoritative", prop.ForAll(
		func(fabricatedOffsetMin int64, authoritativeOffsetMin int64, matched bool) bool {
			fabricated := base.Add(time.Duration(fabricatedOffsetMin) * time.Minute)
			authoritative := base.Add(time.Duration(authoritativeOffsetMin) * time.Minute)
			if fabricated.Equal(authoritative) {
				fabricated = fabricated.Add(time.Minute)
			}

			payload := []byte(fmt.Sprintf(
				`{"transaction_id": "tx-1", "amount": 5, "ts": %q}`,
				fabricated.Format(time.RFC3339)))
			out := quarantine.Classify(types.RawPayloadRecord{
				ID: "p-1", DeviceID: "dev-1", StoreID: "104", RawPayload: payload,
			})
			if !out.IsAccepted() {
				return false
			}

			var interactions []types.InteractionRecord
			if matched {
				interactions = append(interactions, types.InteractionRecord{
					ID: "tx-1", Timestamp: authoritative,
				})
			}

			linked, err := linker.New(nil).Link(context.Background(),
				[]quarantine.Outcome{out}, interactions, nil)
			if err != nil || len(linked) != 1 {
				return false
			}
			New(config.DefaultDaypartBounds(), nil).ResolveAll(linked)

			lt := linked[0]
			if !matched {
				return lt.Timestamp == nil
			}
			return lt.Timestamp != nil &&
				lt.Timestamp.Equal(authoritative) &&
				!lt.Timestamp.Equal(fabricated)
		},
		gen.Int64Range(0, 100000),
		gen.Int64Range(0, 100000),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
