package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"fleetplan/internal/domain"
	"fleetplan/internal/engine/auth"
	"fleetplan/internal/events"
	"fleetplan/internal/repo"
)

// CreateAPIKey issues a key for actorID and returns it with the plaintext secret, which is
// not stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name, role, createdBy string) (domain.APIKey, string, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return domain.APIKey{}, "", fmt.Errorf("actor is required")
	}
	if role == "" {
		role = auth.RolePlanner
	}
	if !auth.ValidRole(role) {
		return domain.APIKey{}, "", fmt.Errorf("unknown role %s (want one of %s)", role, strings.Join(auth.Roles(), ", "))
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	secret := "fp_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        e.newID("api_key", actorID, name),
		ActorID:   actorID,
		Name:      name,
		Role:      role,
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.Events.Append(ctx, tx, events.APIKeyCreated, e.fleetID(), "api_key", key.ID, createdBy, events.EventPayload{"actor_id": actorID, "role": role}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}
