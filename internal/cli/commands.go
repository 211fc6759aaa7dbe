package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dmitrijs2005/mindvault/internal/common"
	"github.com/dmitrijs2005/mindvault/internal/models"
	"github.com/dmitrijs2005/mindvault/internal/schema"
	"github.com/google/uuid"
)

// getSimpleText, getMultiline and getPassword are indirections used to
// facilitate testing.
var (
	getSimpleText = ReadLine
	getMultiline  = ReadText
	getPassword   = ReadSecret
)

// timestampLayout has a fixed width so timestamps sort as strings.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// listLimit caps the feeling logs printed by List.
const listLimit = 20

func (a *App) Unlock(ctx context.Context) error {
	password, err := getPassword("Enter password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if _, err := a.store.Unlock(ctx, password); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Unlocked")
	for _, w := range a.store.Status().Warnings {
		fmt.Fprintln(a.out, "Warning:", w)
	}
	return nil
}

func (a *App) Lock(ctx context.Context) error {
	if err := a.store.Lock(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Locked")
	return nil
}

// AddMood records a feeling log for the current user.
func (a *App) AddMood(ctx context.Context) error {
	feeling, err := getSimpleText(a.reader, "How are you feeling?", a.out)
	if err != nil {
		return err
	}
	if feeling == "" {
		return errors.New("feeling is required")
	}
	note, err := getMultiline(a.reader, "Anything to add?", a.out)
	if err != nil {
		return err
	}

	rec := models.Record{
		"id":        uuid.NewString(),
		"userId":    a.userID,
		"feeling":   feeling,
		"createdAt": a.now().UTC().Format(timestampLayout),
	}
	if note != "" {
		rec["note"] = note
	}
	if err := a.store.Put(ctx, schema.StoreFeelingLogs, rec); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Saved", rec["id"])
	return nil
}

// List prints the newest feeling logs of the current user.
func (a *App) List(ctx context.Context) error {
	rows, err := a.store.QueryByIndex(ctx, schema.StoreFeelingLogs, "userId", a.userID, models.QueryOptions{})
	if err != nil {
		return err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		ti, _ := rows[i].Key("createdAt")
		tj, _ := rows[j].Key("createdAt")
		return ti > tj
	})
	if len(rows) > listLimit {
		rows = rows[:listLimit]
	}

	if len(rows) == 0 {
		fmt.Fprintln(a.out, "No entries")
		return nil
	}
	for _, rec := range rows {
		created, _ := rec.Key("createdAt")
		feeling, _ := rec.Key("feeling")
		id, _ := rec.Key("id")
		fmt.Fprintf(a.out, "%s  %-12s  %s\n", created, feeling, id)
	}
	return nil
}

func (a *App) promptRecord() (store, id string, err error) {
	store, err = getSimpleText(a.reader, "Enter store name", a.out)
	if err != nil {
		return "", "", err
	}
	id, err = getSimpleText(a.reader, "Enter record id", a.out)
	if err != nil {
		return "", "", err
	}
	if store == "" || id == "" {
		return "", "", errors.New("store and id are required")
	}
	return store, id, nil
}

// Show prints one record as indented JSON.
func (a *App) Show(ctx context.Context) error {
	store, id, err := a.promptRecord()
	if err != nil {
		return err
	}
	rec, err := a.store.Get(ctx, store, id)
	if err != nil {
		return err
	}
	return a.printJSON(rec)
}

func (a *App) Delete(ctx context.Context) error {
	store, id, err := a.promptRecord()
	if err != nil {
		return err
	}
	if err := a.store.Delete(ctx, store, id); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Deleted")
	return nil
}

func (a *App) Values(ctx context.Context) error {
	ids, err := a.store.GetActiveValues(ctx, a.userID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(a.out, "No active values")
		return nil
	}
	fmt.Fprintln(a.out, strings.Join(ids, ", "))
	return nil
}

func (a *App) SetValues(ctx context.Context) error {
	line, err := getSimpleText(a.reader, "Enter value ids in priority order, separated by spaces", a.out)
	if err != nil {
		return err
	}
	if err := a.store.SetValuesActive(ctx, a.userID, strings.Fields(line)); err != nil {
		return err
	}
	return a.Values(ctx)
}

// Export dumps every store as JSON, to a file when a path is given.
func (a *App) Export(ctx context.Context) error {
	path, err := getSimpleText(a.reader, "Enter file path (empty prints to screen)", a.out)
	if err != nil {
		return err
	}
	snap, err := a.store.ExportAll(ctx)
	if err != nil {
		return err
	}
	if path == "" {
		return a.printJSON(snap)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Fprintf(a.out, "Exported %d rows to %s\n", snap.Count(), path)
	return nil
}

func (a *App) Verify(ctx context.Context) error {
	if err := a.store.Verify(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Integrity OK")
	return nil
}

func (a *App) RotateKey(ctx context.Context) error {
	if err := a.store.RotateKey(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Key rotated")
	return nil
}

func (a *App) ChangePassword(ctx context.Context) error {
	oldPassword, err := getPassword("Current password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(oldPassword)

	newPassword, err := readNewSecret(getPassword, "New password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(newPassword)

	if err := a.store.ChangePassword(ctx, oldPassword, newPassword); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Password changed")
	return nil
}

// Wipe deletes every row of the current user after confirmation.
func (a *App) Wipe(ctx context.Context) error {
	confirm, err := getSimpleText(a.reader, fmt.Sprintf("Type %q to delete all of its data", a.userID), a.out)
	if err != nil {
		return err
	}
	if confirm != a.userID {
		fmt.Fprintln(a.out, "Cancelled")
		return nil
	}

	res, err := a.store.ClearAllForUser(ctx, a.userID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Cleared %d stores\n", len(res.Succeeded))
	for _, f := range res.Failed {
		fmt.Fprintf(a.out, "Failed %s: %v\n", f.Store, f.Err)
	}
	return nil
}

// Recovery prints the report of the startup check and what the session
// snapshot holds.
func (a *App) Recovery(_ context.Context) error {
	rep := a.store.Status().Recovery
	fmt.Fprintf(a.out, "State: %s\n", rep.State)
	fmt.Fprintf(a.out, "Persisted version: %d, effective: %d\n", rep.Persisted, rep.Effective)
	if rep.Corrected {
		fmt.Fprintln(a.out, "Version was corrected in place")
	}
	if rep.Reset {
		fmt.Fprintf(a.out, "Store was reset, restored %d stores\n", len(rep.Restored.Succeeded))
		for _, f := range rep.Restored.Failed {
			fmt.Fprintf(a.out, "Not restored %s: %v\n", f.Store, f.Err)
		}
	}
	if len(rep.ExportFailed) > 0 {
		fmt.Fprintln(a.out, "Unreadable stores:", strings.Join(rep.ExportFailed, ", "))
	}

	snap, ok := a.store.Snapshot()
	if !ok {
		fmt.Fprintln(a.out, "No recovery snapshot in this session")
		return nil
	}
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(a.out, "  %s: %d rows\n", name, len(snap[name]))
	}
	return nil
}

func (a *App) Encryption(_ context.Context) error {
	fmt.Fprintf(a.out, "Storage mode: %s\n", a.store.Status().Mode)
	return nil
}

func (a *App) Status(_ context.Context) error {
	st := a.store.Status()
	fmt.Fprintf(a.out, "Mode: %s\n", st.Mode)
	fmt.Fprintf(a.out, "Unlocked: %t\n", st.Unlocked)
	fmt.Fprintf(a.out, "Schema version: %d\n", st.SchemaVersion)
	fmt.Fprintf(a.out, "Recovery: %s\n", st.Recovery.State)
	for _, w := range st.Warnings {
		fmt.Fprintln(a.out, "Warning:", w)
	}
	return nil
}

func (a *App) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, string(data))
	return nil
}
