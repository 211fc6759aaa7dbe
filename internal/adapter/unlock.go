package adapter

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/mindvault/internal/codec"
	"github.com/dmitrijs2005/mindvault/internal/common"
	"github.com/dmitrijs2005/mindvault/internal/cryptox"
	"github.com/dmitrijs2005/mindvault/internal/models"
	"github.com/dmitrijs2005/mindvault/internal/settings"
	"github.com/dmitrijs2005/mindvault/internal/vault"
)

// Unlock derives the session key from password. It returns false with
// common.ErrWrongPassword when the password does not open the existing
// data; a first unlock adopts the password.
func (a *Adapter) Unlock(ctx context.Context, password []byte) (bool, error) {
	if _, _, err := a.handles(); err != nil {
		return false, err
	}
	if len(password) == 0 {
		return false, fmt.Errorf("%w: empty password", common.ErrWrongPassword)
	}

	var err error
	if a.cfg.Mode == Encrypted {
		err = a.unlockVault(ctx, password)
	} else {
		err = a.unlockPlain(ctx, password)
	}
	if err != nil {
		return false, translate(err)
	}

	a.cfg.Session.SetPassword(password)
	a.log.Info(ctx, "unlocked")
	return true, nil
}

func (a *Adapter) unlockPlain(ctx context.Context, password []byte) error {
	key, err := a.keys.DeriveKey(ctx, password)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(key)

	adopted, err := a.checkPlainKey(ctx, key)
	if err != nil {
		return err
	}
	if adopted {
		if err := a.settings.Set(ctx, settings.KeyVerifier, cryptox.MakeVerifier(key)); err != nil {
			return fmt.Errorf("store key verifier: %w", err)
		}
	}

	a.keys.SetKey(key)
	return nil
}

// checkPlainKey proves key against what the plain store already holds: the
// stored verifier or, without one, the first flagged field found. adopted
// is true when there was no verifier yet.
func (a *Adapter) checkPlainKey(ctx context.Context, key []byte) (adopted bool, err error) {
	stored, err := a.settings.Get(ctx, settings.KeyVerifier)
	if err != nil {
		return false, err
	}
	if stored != nil {
		if subtle.ConstantTimeCompare(stored, cryptox.MakeVerifier(key)) != 1 {
			return false, common.ErrWrongPassword
		}
		return false, nil
	}
	if err := a.checkFlaggedRow(ctx, key); err != nil {
		return false, err
	}
	return true, nil
}

func (a *Adapter) checkFlaggedRow(ctx context.Context, key []byte) error {
	snap, err := a.kv.ExportAll(ctx)
	if err != nil {
		return err
	}
	for _, st := range a.cfg.Schema.Stores() {
		for _, rec := range snap[st.Name] {
			if !codec.HasEncrypted(rec, st.Sensitive) {
				continue
			}
			if _, failed := codec.DecryptFields(rec, st.Sensitive, key); len(failed) > 0 {
				return common.ErrWrongPassword
			}
			return nil
		}
	}
	return nil
}

func (a *Adapter) unlockVault(ctx context.Context, password []byte) error {
	key, err := a.keys.DeriveKey(ctx, password)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(key)

	blob, err := a.settings.LoadVault(ctx)
	if err != nil {
		return err
	}
	adopted := false
	if blob == nil {
		if adopted, err = a.checkPlainKey(ctx, key); err != nil {
			return err
		}
	}

	v, err := vault.Open(ctx, vault.Config{
		Keys:   a.keys,
		Blobs:  a.settings,
		Schema: a.cfg.Schema,
		Logger: a.cfg.Logger,
		UserID: a.cfg.UserID,
	})
	if err != nil {
		return err
	}

	if blob != nil {
		if err := v.Load(ctx, blob, key); err != nil {
			_ = v.Close()
			if errors.Is(err, common.ErrDecryptionFailed) {
				return fmt.Errorf("%w: %w", common.ErrWrongPassword, err)
			}
			return err
		}
		a.keys.SetKey(key)
	} else {
		a.keys.SetKey(key)
		if err := v.Create(ctx); err != nil {
			a.keys.Lock()
			_ = v.Close()
			return err
		}
		if adopted {
			a.syncVerifier(ctx)
		}
	}

	if err := a.importPlain(ctx, v, key); err != nil {
		a.log.Warn(ctx, "plain rows not imported into the vault", "error", err)
		a.addWarning(ctx, fmt.Sprintf("plain rows not imported: %v", err))
	}

	if err := v.Verify(ctx); err != nil {
		if !errors.Is(err, common.ErrIntegrityViolation) {
			a.keys.Lock()
			_ = v.Close()
			return err
		}
		a.addWarning(ctx, err.Error())
	}

	a.mu.Lock()
	old := a.vault
	a.vault = v
	a.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// importPlain moves the rows of the plain store into the vault once, the
// first time an installation is unlocked in Encrypted mode. When any field
// fails to decrypt nothing is imported and the plain rows stay where they
// are, so the next unlock tries again.
func (a *Adapter) importPlain(ctx context.Context, v *vault.Vault, key []byte) error {
	done, err := a.settings.MarkerDone(ctx, MarkerEncryptionImport)
	if err != nil || done {
		return err
	}

	snap, err := a.kv.ExportAll(ctx)
	if err != nil {
		return fmt.Errorf("export plain store: %w", err)
	}
	var broken []string
	for _, st := range a.cfg.Schema.Stores() {
		if len(st.Sensitive) == 0 {
			continue
		}
		for i, rec := range snap[st.Name] {
			out, failed := codec.DecryptFields(rec, st.Sensitive, key)
			if len(failed) > 0 {
				pk, _ := rec.Key(st.PrimaryKeyPath)
				a.log.Warn(ctx, "fields could not be decrypted on import", "store", st.Name, "key", pk, "fields", failed)
				broken = append(broken, st.Name+"/"+pk)
				continue
			}
			snap[st.Name][i] = out
		}
	}
	if len(broken) > 0 {
		return fmt.Errorf("%w: rows %v keep their plain copy", common.ErrDecryptionFailed, broken)
	}

	if snap.Count() > 0 {
		if err := v.Import(ctx, snap); err != nil {
			return err
		}
	}
	if err := a.settings.SetMarker(ctx, MarkerEncryptionImport); err != nil {
		return err
	}

	for name, rows := range snap {
		if len(rows) == 0 {
			continue
		}
		if err := a.kv.ClearStore(ctx, name); err != nil {
			a.log.Warn(ctx, "could not clear imported plain store", "store", name, "error", err)
		}
	}
	a.log.Info(ctx, "imported plain rows into the vault", "rows", snap.Count())
	return nil
}

// Lock forgets the session key and password and, in Encrypted mode,
// discards the working copy of the vault.
func (a *Adapter) Lock(ctx context.Context) error {
	a.mu.Lock()
	v := a.vault
	a.vault = nil
	km := a.keys
	a.mu.Unlock()

	if km != nil {
		km.Lock()
	}
	a.cfg.Session.ClearPassword()

	if v != nil {
		if err := v.Close(); err != nil {
			return translate(err)
		}
	}
	a.log.Info(ctx, "locked")
	return nil
}

func (a *Adapter) unlockedVault() (*vault.Vault, error) {
	_, v, err := a.handles()
	if err != nil {
		return nil, err
	}
	if a.cfg.Mode != Encrypted {
		return nil, common.ErrUnsupported
	}
	if v == nil {
		return nil, common.ErrLocked
	}
	return v, nil
}

// RotateKey re-encrypts the vault under a new salt, re-deriving the key
// from the password cached for this session. Without a cached password it
// fails with common.ErrRotationDenied and the user has to unlock again.
func (a *Adapter) RotateKey(ctx context.Context) error {
	v, err := a.unlockedVault()
	if err != nil {
		return err
	}
	password, ok := a.cfg.Session.Password()
	if !ok {
		return common.ErrRotationDenied
	}
	defer common.WipeByteArray(password)

	if err := a.requireImported(ctx); err != nil {
		return err
	}
	if err := v.Rotate(ctx, password); err != nil {
		return translate(err)
	}
	a.syncVerifier(ctx)
	return nil
}

// ChangePassword re-encrypts the vault under newPassword after proving
// oldPassword against the persisted blob.
func (a *Adapter) ChangePassword(ctx context.Context, oldPassword, newPassword []byte) error {
	v, err := a.unlockedVault()
	if err != nil {
		return err
	}
	if len(newPassword) == 0 {
		return fmt.Errorf("%w: empty new password", common.ErrWrongPassword)
	}
	if err := a.requireImported(ctx); err != nil {
		return err
	}
	if err := v.ChangePassword(ctx, oldPassword, newPassword); err != nil {
		return translate(err)
	}
	a.cfg.Session.SetPassword(newPassword)
	a.syncVerifier(ctx)
	return nil
}

// requireImported refuses to replace the key while plain rows encrypted
// under the current one are still waiting to be imported.
func (a *Adapter) requireImported(ctx context.Context) error {
	done, err := a.settings.MarkerDone(ctx, MarkerEncryptionImport)
	if err != nil {
		return translate(err)
	}
	if !done {
		return fmt.Errorf("%w: plain rows are not imported yet", common.ErrRotationDenied)
	}
	return nil
}

// syncVerifier stores the verifier of the key installed by a rotation, so
// a later Plain unlock still checks the password against the new salt.
func (a *Adapter) syncVerifier(ctx context.Context) {
	err := a.keys.WithKey(func(key []byte) error {
		return a.settings.Set(ctx, settings.KeyVerifier, cryptox.MakeVerifier(key))
	})
	if err != nil {
		a.log.Warn(ctx, "could not update key verifier", "error", err)
	}
}

// Verify runs the integrity verifier of the vault. A violation is recorded
// as a warning and returned; reads keep working. Plain mode has nothing to
// verify.
func (a *Adapter) Verify(ctx context.Context) error {
	if a.cfg.Mode == Plain {
		_, _, err := a.handles()
		return err
	}
	v, err := a.unlockedVault()
	if err != nil {
		return err
	}
	err = v.Verify(ctx)
	if errors.Is(err, common.ErrIntegrityViolation) {
		a.addWarning(ctx, err.Error())
	}
	return translate(err)
}

// Snapshot returns the recovery snapshot kept for this session.
func (a *Adapter) Snapshot() (models.Snapshot, bool) {
	return a.cfg.Session.Snapshot()
}
