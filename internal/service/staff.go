package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/store"
	"barpos/backend/internal/xid"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

const adminStaffID = "S-ADMIN"

// BootstrapAdmin makes sure the admin account exists and answers to pin.
// It runs once at startup, before any terminal can log in.
// The PIN must not already belong to another active staff member.
func (s *Service) BootstrapAdmin(ctx context.Context, pin string) error {
	hash, err := s.checkNewPIN(ctx, pin, adminStaffID)
	if err != nil {
		return fmt.Errorf("admin PIN: %w", err)
	}

	existing, err := s.repo.GetStaff(ctx, adminStaffID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		_, err = s.repo.CreateStaff(ctx, domain.Staff{
			ID:        adminStaffID,
			Name:      "Super Admin",
			Role:      domain.RoleAdmin,
			PINHash:   hash,
			Active:    true,
			CreatedAt: s.now(),
		})
		if err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		s.logger.Info("admin account created", zap.String("staff_id", adminStaffID))
		return nil
	case err != nil:
		return fmt.Errorf("load admin: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(existing.PINHash), []byte(pin)) == nil && existing.Active {
		return nil
	}
	existing.PINHash = hash
	existing.Active = true
	if _, err := s.repo.UpdateStaff(ctx, *existing); err != nil {
		return fmt.Errorf("update admin: %w", err)
	}
	s.logger.Info("admin PIN rotated from configuration", zap.String("staff_id", adminStaffID))
	return nil
}

// Authenticate finds the active staff member whose PIN matches. PINs are
// unique among active staff, so at most one can match.
func (s *Service) Authenticate(ctx context.Context, pin string) (domain.Staff, error) {
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return domain.Staff{}, ErrInvalidCredentials
	}
	staff, err := s.repo.ListStaff(ctx)
	if err != nil {
		return domain.Staff{}, fmt.Errorf("authenticate: %w", err)
	}
	for _, st := range staff {
		if !st.Active || st.PINHash == "" {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(st.PINHash), []byte(pin)) == nil {
			return st, nil
		}
	}
	return domain.Staff{}, ErrInvalidCredentials
}

func (s *Service) ListStaff(ctx context.Context) ([]domain.Staff, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListStaff(ctx)
}

func (s *Service) CreateStaff(ctx context.Context, req domain.StaffCreateRequest) (domain.Staff, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Staff{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Staff{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if !req.Role.Valid() {
		return domain.Staff{}, fmt.Errorf("%w: role must be ADMIN, CASHIER or WAITER", ErrInvalidInput)
	}
	hash, err := s.checkNewPIN(ctx, req.PIN, "")
	if err != nil {
		return domain.Staff{}, err
	}

	created, err := s.repo.CreateStaff(ctx, domain.Staff{
		ID:        strings.ToUpper(xid.New("S")),
		Name:      name,
		Role:      req.Role,
		PINHash:   hash,
		Active:    true,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Staff{}, fmt.Errorf("create staff: %w", err)
	}

	s.logAudit(ctx, "ADD_STAFF", fmt.Sprintf("Added %s (%s) as %s", created.Name, created.ID, created.Role))
	return *created, nil
}

// DeactivateStaff keeps the record for history but blocks further logins.
func (s *Service) DeactivateStaff(ctx context.Context, id string) error {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return err
	}
	existing, err := s.repo.GetStaff(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if existing.ID == actor.StaffID {
		return fmt.Errorf("%w: cannot deactivate your own account", ErrInvalidInput)
	}
	if !existing.Active {
		return nil
	}

	existing.Active = false
	if _, err := s.repo.UpdateStaff(ctx, *existing); err != nil {
		return fmt.Errorf("deactivate staff %s: %w", existing.ID, err)
	}
	s.logAudit(ctx, "REMOVE_STAFF", fmt.Sprintf("Deactivated %s (%s)", existing.Name, existing.ID))
	return nil
}

func (s *Service) ChangePIN(ctx context.Context, id string, pin string) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	existing, err := s.repo.GetStaff(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	hash, err := s.checkNewPIN(ctx, pin, existing.ID)
	if err != nil {
		return err
	}

	existing.PINHash = hash
	if _, err := s.repo.UpdateStaff(ctx, *existing); err != nil {
		return fmt.Errorf("change PIN for %s: %w", existing.ID, err)
	}
	s.logAudit(ctx, "UPDATE_PIN", fmt.Sprintf("Changed PIN for %s (%s)", existing.Name, existing.ID))
	return nil
}

// checkNewPIN validates pin and returns its hash. Since login is by PIN
// alone, no other active staff member may already use it.
func (s *Service) checkNewPIN(ctx context.Context, pin string, ownerID string) (string, error) {
	pin = strings.TrimSpace(pin)
	if err := domain.CheckPIN(pin); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	holder, err := s.Authenticate(ctx, pin)
	switch {
	case err == nil && holder.ID != ownerID:
		return "", fmt.Errorf("%w: PIN already in use", ErrInvalidInput)
	case err != nil && !errors.Is(err, ErrInvalidCredentials):
		return "", err
	}
	return s.hashPIN(pin)
}

func (s *Service) hashPIN(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), s.pinCost)
	if err != nil {
		return "", fmt.Errorf("hash PIN: %w", err)
	}
	return string(hash), nil
}
