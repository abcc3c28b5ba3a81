package prefab

import (
	"fmt"

	"github.com/simcore/engine/internal/core/ecs"
	"github.com/simcore/engine/internal/stream"
)

// Component serializes v under the TypeID of T.
func Component[T any](v *T) (stream.Component, error) {
	enc, ok := any(v).(Encoder)
	if !ok {
		return stream.Component{}, fmt.Errorf("prefab: %s has no encoder", ecs.TypeName[T]())
	}
	w := stream.NewWriter()
	enc.EncodeComponent(w)
	return stream.Component{Type: uint64(ecs.TypeOf[T]()), Payload: w.Bytes()}, nil
}

// Snapshot serializes the given entities with every component whose type
// is listed in types. Components that cannot be encoded are skipped.
func Snapshot(w *ecs.World, h stream.Header, ids []ecs.EntityID, types []ecs.TypeID) []byte {
	records := make([]stream.Record, 0, len(ids))
	for _, id := range ids {
		rec := stream.Record{EntityID: int64(id)}
		for _, typ := range types {
			enc, ok := w.ComponentByType(id, typ).(Encoder)
			if !ok {
				continue
			}
			sw := stream.NewWriter()
			enc.EncodeComponent(sw)
			rec.Components = append(rec.Components, stream.Component{Type: uint64(typ), Payload: sw.Bytes()})
		}
		records = append(records, rec)
	}
	return stream.Encode(h, records)
}
