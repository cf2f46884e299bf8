package service

import (
	"context"
	"fmt"
	"strings"

	"tokoku/backend/internal/domain"
	"tokoku/backend/internal/store"
)

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerRequest) (domain.Customer, error) {
	customer, err := s.customerFromRequest(req)
	if err != nil {
		return domain.Customer{}, err
	}

	saved, err := s.repo.CreateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_create", "customer", saved.ID, fmt.Sprintf("name=%s", saved.Name))
	return *saved, nil
}

// UpdateCustomer replaces the customer's contact fields. Sales keep the name
// they were created with.
func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerRequest) (domain.Customer, error) {
	customer, err := s.customerFromRequest(req)
	if err != nil {
		return domain.Customer{}, err
	}
	customer.ID = strings.TrimSpace(id)

	saved, err := s.repo.UpdateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_update", "customer", saved.ID, fmt.Sprintf("name=%s", saved.Name))
	return *saved, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.FindCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListCustomers(ctx, limit)
}

func (s *Service) customerFromRequest(req domain.CustomerRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	req.Address = strings.TrimSpace(req.Address)
	if err := s.validateRequest(req); err != nil {
		return domain.Customer{}, err
	}
	phone, err := s.normalizePhone(req.Phone)
	if err != nil {
		return domain.Customer{}, err
	}
	return domain.Customer{
		Name:    req.Name,
		Phone:   phone,
		Email:   req.Email,
		Address: req.Address,
	}, nil
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	if err := s.validateRequest(req); err != nil {
		return domain.Supplier{}, err
	}
	phone, err := s.normalizePhone(req.Phone)
	if err != nil {
		return domain.Supplier{}, err
	}

	saved, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		Name:   req.Name,
		Phone:  phone,
		Email:  req.Email,
		Active: true,
	})
	if err != nil {
		return domain.Supplier{}, err
	}

	s.logAudit(ctx, "supplier_create", "supplier", saved.ID, fmt.Sprintf("name=%s", saved.Name))
	return *saved, nil
}

func (s *Service) UpdateSupplier(ctx context.Context, id string, req domain.SupplierUpdateRequest) (domain.Supplier, error) {
	if err := s.validateRequest(req); err != nil {
		return domain.Supplier{}, err
	}

	existing, err := s.repo.FindSupplier(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Supplier{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Supplier{}, fmt.Errorf("%w: name is required", store.ErrInvalidTransaction)
		}
		updated.Name = name
	}
	if req.Phone != nil {
		phone, err := s.normalizePhone(*req.Phone)
		if err != nil {
			return domain.Supplier{}, err
		}
		updated.Phone = phone
	}
	if req.Email != nil {
		updated.Email = normalizeEmail(*req.Email)
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateSupplier(ctx, updated)
	if err != nil {
		return domain.Supplier{}, err
	}

	s.logAudit(ctx, "supplier_update", "supplier", saved.ID, fmt.Sprintf("name=%s,active=%t", saved.Name, saved.Active))
	return *saved, nil
}

func (s *Service) GetSupplier(ctx context.Context, id string) (domain.Supplier, error) {
	supplier, err := s.repo.FindSupplier(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Supplier{}, err
	}
	return *supplier, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}
