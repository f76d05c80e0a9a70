// Package idgen implements the generated-field value strategies the schema
// validator consumes during prepareInsert: uuid, cuid, autoincrement, and
// timestamp.
package idgen

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/emberdb/ember/internal/types"
)

// Generate produces a value for a field declared with the given generated
// strategy. autoincrement consumes the counter value the caller passes in
// (the bucket worker owns advancing its own counter); every other strategy
// ignores it.
func Generate(kind types.Generated, counter int64) (types.Value, error) {
	switch kind {
	case types.GeneratedUUID:
		return types.String(uuid.NewString()), nil
	case types.GeneratedCUID:
		return types.String(NewCUID()), nil
	case types.GeneratedAutoincrement:
		return types.Int(counter), nil
	case types.GeneratedTimestamp:
		return types.Int(time.Now().UnixMilli()), nil
	default:
		return types.Null(), fmt.Errorf("idgen: unknown generated strategy %q", kind)
	}
}
