package vault

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/mindvault/internal/common"
	"github.com/dmitrijs2005/mindvault/internal/cryptox"
	"github.com/dmitrijs2005/mindvault/internal/dbx"
	"github.com/dmitrijs2005/mindvault/internal/keys"
)

// persisted opens the blob currently on disk with key.
func (v *Vault) persisted(ctx context.Context, key []byte) error {
	blob, err := v.blobs.LoadVault(ctx)
	if err != nil {
		return fmt.Errorf("load vault: %w", err)
	}
	if blob == nil {
		return fmt.Errorf("%w: no vault saved", common.ErrNotFound)
	}
	plain, err := cryptox.DecryptBlob(key, blob)
	common.WipeByteArray(plain)
	return err
}

// rekeyCommit seals the working copy under the new key and writes blob and
// salt together. The previous blob stays authoritative until that write
// succeeds; on failure the SQL transaction is rolled back too.
func (v *Vault) rekeyCommit(ctx context.Context, action string) keys.CommitFunc {
	return func(oldKey, newKey, newSalt []byte) error {
		if err := v.persisted(ctx, oldKey); err != nil {
			return fmt.Errorf("%s: open current vault: %w", action, err)
		}
		return dbx.WithTx(ctx, v.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			blob, err := v.seal(ctx, tx, newKey, v.entry(action, "", "", ""))
			if err != nil {
				return err
			}
			if err := v.blobs.CommitRotation(ctx, blob, newSalt); err != nil {
				return fmt.Errorf("%s: commit: %w", action, err)
			}
			return nil
		})
	}
}

// Rotate re-encrypts the vault under a new salt and a key freshly derived
// from password. The session must already hold the current key.
func (v *Vault) Rotate(ctx context.Context, password []byte) error {
	v.saveMu.Lock()
	defer v.saveMu.Unlock()

	if err := v.keys.Rotate(ctx, password, v.rekeyCommit(ctx, ActionRotateKey)); err != nil {
		return err
	}
	v.log.Info(ctx, "rotated vault key")
	return nil
}

// ChangePassword re-encrypts the vault under newPassword after proving
// oldPassword opens the persisted blob.
func (v *Vault) ChangePassword(ctx context.Context, oldPassword, newPassword []byte) error {
	v.saveMu.Lock()
	defer v.saveMu.Unlock()

	verify := func(oldKey []byte) error {
		return v.persisted(ctx, oldKey)
	}
	if err := v.keys.ChangePassword(ctx, oldPassword, newPassword, verify, v.rekeyCommit(ctx, ActionChangePassword)); err != nil {
		return err
	}
	v.log.Info(ctx, "changed vault password")
	return nil
}
