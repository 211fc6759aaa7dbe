package schema

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/mindvault/internal/common"
	"github.com/dmitrijs2005/mindvault/internal/models"
)

// Journal store names.
const (
	StoreUsers       = "users"
	StoreGoals       = "goals"
	StoreFeelingLogs = "feeling_logs"
	StoreSessions    = "sessions"
	StoreAssessments = "assessments"
	StoreValues      = "values"
	StoreReports     = "reports"
	StoreResetTokens = "reset_tokens"
	StoreMetadata    = "metadata"
)

// BackfillFeelingLogUserID is the marker name of the v3 transform.
const BackfillFeelingLogUserID = "backfill_feeling_log_user_id"

func byUser() IndexDefinition {
	return IndexDefinition{Name: "userId", KeyPath: "userId"}
}

// JournalMigrations returns the migration list of the wellness journal.
// Tests build intermediate schemas from prefixes of it.
func JournalMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Stores: []StoreDefinition{
				{
					Name:           StoreUsers,
					PrimaryKeyPath: "id",
					Indexes:        []IndexDefinition{{Name: "email", KeyPath: "email", Unique: true}},
					UserKeyPath:    "id",
					Sensitive:      []string{"name", "dateOfBirth"},
				},
				{
					Name:           StoreGoals,
					PrimaryKeyPath: "id",
					Indexes:        []IndexDefinition{byUser()},
					UserKeyPath:    "userId",
					Sensitive:      []string{"title", "description"},
				},
				{
					Name:           StoreFeelingLogs,
					PrimaryKeyPath: "id",
					Indexes: []IndexDefinition{
						{Name: "sessionId", KeyPath: "sessionId"},
						{Name: "createdAt", KeyPath: "createdAt"},
					},
					UserKeyPath: "userId",
					Sensitive:   []string{"feeling", "note"},
				},
			},
		},
		{
			Version: 2,
			Stores: []StoreDefinition{
				{
					Name:           StoreSessions,
					PrimaryKeyPath: "id",
					Indexes:        []IndexDefinition{byUser()},
					UserKeyPath:    "userId",
					Sensitive:      []string{"notes"},
				},
				{
					Name:           StoreAssessments,
					PrimaryKeyPath: "id",
					Indexes:        []IndexDefinition{byUser()},
					UserKeyPath:    "userId",
					Sensitive:      []string{"answers", "score"},
				},
			},
		},
		{
			Version: 3,
			Indexes: []IndexAddition{{Store: StoreFeelingLogs, Index: byUser()}},
			Transforms: []Transform{{
				Name:   BackfillFeelingLogUserID,
				Stores: []string{StoreFeelingLogs, StoreSessions},
				Apply:  backfillFeelingLogUserID,
			}},
		},
		{
			Version: 4,
			Stores: []StoreDefinition{{
				Name:           StoreValues,
				PrimaryKeyPath: "id",
				Indexes:        []IndexDefinition{byUser()},
				UserKeyPath:    "userId",
			}},
		},
		{
			Version: 5,
			Stores: []StoreDefinition{
				{
					Name:           StoreReports,
					PrimaryKeyPath: "id",
					Indexes:        []IndexDefinition{byUser()},
					UserKeyPath:    "userId",
					Sensitive:      []string{"content"},
				},
				{
					Name:           StoreResetTokens,
					PrimaryKeyPath: "token",
					Indexes:        []IndexDefinition{byUser(), {Name: "expiresAt", KeyPath: "expiresAt"}},
					UserKeyPath:    "userId",
				},
				{
					Name:           StoreMetadata,
					PrimaryKeyPath: "key",
				},
			},
		},
	}
}

// Journal returns the current journal schema.
func Journal() *Schema {
	return MustNew(JournalMigrations()...)
}

// backfillFeelingLogUserID copies userId onto historical feeling logs by
// following sessionId to the owning session.
func backfillFeelingLogUserID(tx models.Tx) error {
	var pending []models.Record
	err := tx.ForEach(StoreFeelingLogs, func(rec models.Record) error {
		if _, ok := rec.Key("userId"); ok {
			return nil
		}
		if _, ok := rec.Key("sessionId"); !ok {
			return nil
		}
		pending = append(pending, rec)
		return nil
	})
	if err != nil {
		return err
	}

	for _, rec := range pending {
		sessionID, _ := rec.Key("sessionId")
		session, err := tx.Get(StoreSessions, sessionID)
		if errors.Is(err, common.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("load session %s: %w", sessionID, err)
		}
		userID, ok := session.Key("userId")
		if !ok {
			continue
		}
		updated := rec.Clone()
		updated["userId"] = userID
		if err := tx.Put(StoreFeelingLogs, updated); err != nil {
			return err
		}
	}
	return nil
}
