package pipeline

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/graphmind-ai/graphmind/common"
	"github.com/graphmind-ai/graphmind/kg"
	"github.com/graphmind-ai/graphmind/schema"
	"github.com/graphmind-ai/graphmind/validate"
)

// Linker assigns canonical IDs to extracted entities: an existing store
// match wins, then intra-batch dedupe by normalized name, then a fresh ID.
type Linker struct {
	store kg.GraphStore
	log   *logrus.Entry
}

// NewLinker builds a linker; store may be nil, in which case every entity
// gets a new ID.
func NewLinker(store kg.GraphStore) *Linker {
	return &Linker{store: store, log: common.ServiceLogger("linker")}
}

// Link resolves an extraction into canonical IDs and rewrites relation
// endpoints. Store lookups are best-effort: a store failure falls through to
// ID generation, never fails the batch.
func (l *Linker) Link(ctx context.Context, in validate.Extraction) (*validate.Linked, error) {
	out := validate.Linked{CanonicalIDs: make(map[string]string, len(in.Entities))}
	byNormalized := make(map[string]string)

	resolve := func(name string, label schema.NodeKind) string {
		normalized := kg.NormalizeName(name)
		if id, ok := byNormalized[normalized]; ok {
			return id
		}

		var id string
		if l.store != nil {
			if node, err := l.store.NodeByName(ctx, normalized); err == nil {
				id = node.ID
			} else if err != kg.ErrNodeNotFound {
				l.log.WithError(err).WithField("name", name).Warn("store lookup failed, generating new id")
			}
		}
		if id == "" {
			id = schema.GenerateID(label)
		}
		byNormalized[normalized] = id
		return id
	}

	for _, e := range in.Entities {
		id := resolve(e.Name, e.Label)
		out.CanonicalIDs[e.Name] = id
		entity := e
		if entity.Properties == nil {
			entity.Properties = kg.Properties{}
		} else {
			entity.Properties = entity.Properties.Clone()
		}
		entity.Properties["name"] = e.Name
		out.Entities = append(out.Entities, entity)
	}

	for _, c := range in.Claims {
		if _, ok := out.CanonicalIDs[c.Text]; !ok {
			out.CanonicalIDs[c.Text] = schema.GenerateID(schema.KindClaim)
		}
	}

	for _, r := range in.Relations {
		rel := r
		if id, ok := out.CanonicalIDs[r.From]; ok {
			rel.From = id
		}
		if id, ok := out.CanonicalIDs[r.To]; ok {
			rel.To = id
		}
		out.Relations = append(out.Relations, rel)
	}

	return validate.ValidateLinked(out)
}
