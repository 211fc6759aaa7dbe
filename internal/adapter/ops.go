package adapter

import (
	"context"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/mindvault/internal/common"
	"github.com/dmitrijs2005/mindvault/internal/models"
	"github.com/dmitrijs2005/mindvault/internal/schema"
	"github.com/dmitrijs2005/mindvault/internal/vault"
)

func (a *Adapter) Get(ctx context.Context, store, key string) (models.Record, error) {
	b, err := a.backend()
	if err != nil {
		return nil, err
	}
	rec, err := b.Get(ctx, store, key)
	return rec, translate(err)
}

func (a *Adapter) Put(ctx context.Context, store string, rec models.Record) error {
	b, err := a.backend()
	if err != nil {
		return err
	}
	return translate(b.Put(ctx, store, rec))
}

func (a *Adapter) Delete(ctx context.Context, store, key string) error {
	b, err := a.backend()
	if err != nil {
		return err
	}
	return translate(b.Delete(ctx, store, key))
}

func (a *Adapter) QueryByIndex(ctx context.Context, store, index string, value any, opts models.QueryOptions) ([]models.Record, error) {
	b, err := a.backend()
	if err != nil {
		return nil, err
	}
	rows, err := b.QueryByIndex(ctx, store, index, value, opts)
	return rows, translate(err)
}

// ExportAll returns a plaintext dump of every store.
func (a *Adapter) ExportAll(ctx context.Context) (models.Snapshot, error) {
	b, err := a.backend()
	if err != nil {
		return nil, err
	}
	snap, err := b.ExportAll(ctx)
	if err != nil {
		return nil, translate(err)
	}
	if a.cfg.Mode == Encrypted {
		if v, err := a.unlockedVault(); err == nil {
			v.Record(ctx, vault.ActionExport, "", "", fmt.Sprintf("%d rows", snap.Count()))
		}
	}
	return snap, nil
}

// Active-values rows live in the values store as
// {id: "<userId>:<valueId>", userId, valueId, active, priority}.

func valueRowID(userID, valueID string) string {
	return userID + ":" + valueID
}

func priorityOf(rec models.Record) float64 {
	switch p := rec["priority"].(type) {
	case float64:
		return p
	case int:
		return float64(p)
	default:
		return 0
	}
}

// GetActiveValues returns the active value ids of userID in priority order.
// It never returns nil.
func (a *Adapter) GetActiveValues(ctx context.Context, userID string) ([]string, error) {
	rows, err := a.QueryByIndex(ctx, schema.StoreValues, "userId", userID, models.QueryOptions{})
	if err != nil {
		return nil, err
	}

	active := make([]models.Record, 0, len(rows))
	for _, rec := range rows {
		if on, _ := rec["active"].(bool); on {
			active = append(active, rec)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return priorityOf(active[i]) < priorityOf(active[j])
	})

	out := make([]string, 0, len(active))
	for _, rec := range active {
		if id, ok := rec.Key("valueId"); ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// SetValuesActive makes orderedIDs the active set of userID, with priority
// taken from list position. Values not in the list are deactivated.
// Duplicates keep their first position.
func (a *Adapter) SetValuesActive(ctx context.Context, userID string, orderedIDs []string) error {
	b, err := a.backend()
	if err != nil {
		return err
	}

	want := make([]string, 0, len(orderedIDs))
	seen := make(map[string]struct{}, len(orderedIDs))
	for _, id := range orderedIDs {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		want = append(want, id)
	}

	err = b.Update(ctx, func(tx models.Tx) error {
		existing, err := tx.QueryByIndex(schema.StoreValues, "userId", userID, models.QueryOptions{})
		if err != nil {
			return err
		}
		byValue := make(map[string]models.Record, len(existing))
		for _, rec := range existing {
			id, _ := rec.Key("valueId")
			byValue[id] = rec
			if _, keep := seen[id]; keep {
				continue
			}
			if on, _ := rec["active"].(bool); !on {
				continue
			}
			off := rec.Clone()
			off["active"] = false
			delete(off, "priority")
			if err := tx.Put(schema.StoreValues, off); err != nil {
				return err
			}
		}

		for i, id := range want {
			rec := byValue[id].Clone()
			if rec == nil {
				rec = models.Record{}
			}
			rec["id"] = valueRowID(userID, id)
			rec["userId"] = userID
			rec["valueId"] = id
			rec["active"] = true
			rec["priority"] = i
			if err := tx.Put(schema.StoreValues, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set active values: %w", translate(err))
	}
	return nil
}

// ClearAllForUser deletes every row referencing userID across every store.
// It is best-effort: a store that fails is reported in the result and the
// remaining stores are still cleared.
func (a *Adapter) ClearAllForUser(ctx context.Context, userID string) (models.BatchResult, error) {
	plain, v, err := a.handles()
	if err != nil {
		return models.BatchResult{}, err
	}

	var result models.BatchResult
	if a.cfg.Mode == Encrypted {
		if v == nil {
			return result, common.ErrLocked
		}
		result, err = v.DeleteByUser(ctx, userID)
		if err != nil {
			return result, translate(err)
		}
	} else {
		for _, st := range a.cfg.Schema.Stores() {
			if st.UserKeyPath == "" {
				continue
			}
			n, err := plain.db.DeleteWhere(ctx, st.Name, st.UserKeyPath, userID)
			if err != nil {
				a.log.Warn(ctx, "clear user failed for store", "store", st.Name, "error", err)
			} else {
				a.log.Debug(ctx, "cleared user rows", "store", st.Name, "rows", n)
			}
			result.Add(st.Name, translate(err))
		}
	}

	if !result.OK() {
		a.log.Warn(ctx, "clear user finished with failures", "user", userID, "failed", len(result.Failed))
	}
	return result, nil
}
