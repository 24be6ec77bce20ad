package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-onboard/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-onboard/pkg/database"
	"github.com/ekaya-inc/ekaya-onboard/pkg/models"
	"github.com/ekaya-inc/ekaya-onboard/pkg/repositories"
)

// ProductService reconciles submitted products with a profile's catalog.
type ProductService interface {
	// UpsertProduct updates the product with the same external id in place,
	// or inserts a new one. Products without an external id are always new.
	UpsertProduct(ctx context.Context, profileID uuid.UUID, fields models.ProductFields) (*models.Product, bool, error)
	ListProducts(ctx context.Context, profileID uuid.UUID) ([]*models.Product, error)
}

type productService struct {
	productRepo repositories.ProductRepository
	tx          database.Transactor
	logger      *zap.Logger
}

// NewProductService creates a new product service.
func NewProductService(productRepo repositories.ProductRepository, tx database.Transactor, logger *zap.Logger) ProductService {
	return &productService{
		productRepo: productRepo,
		tx:          tx,
		logger:      logger.Named("products"),
	}
}

var _ ProductService = (*productService)(nil)

func (s *productService) UpsertProduct(ctx context.Context, profileID uuid.UUID, fields models.ProductFields) (*models.Product, bool, error) {
	if !fields.HasName() {
		return nil, false, apperrors.ErrProductNameRequired
	}

	var (
		product *models.Product
		wasNew  bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if id := fields.Identifier(); id != "" {
			existing, err := s.productRepo.GetByExternalID(ctx, profileID, id)
			switch {
			case err == nil:
				if fields.ApplyTo(existing) {
					if err := s.productRepo.Update(ctx, existing); err != nil {
						return fmt.Errorf("failed to update product: %w", err)
					}
				}
				product = existing
				return nil
			case !errors.Is(err, apperrors.ErrNotFound):
				return fmt.Errorf("failed to look up product: %w", err)
			}
		}

		product = &models.Product{ProfileID: profileID}
		fields.ApplyTo(product)
		if err := s.productRepo.Create(ctx, product); err != nil {
			return fmt.Errorf("failed to create product: %w", err)
		}
		wasNew = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	s.logger.Info("Product upserted",
		zap.String("profile_id", profileID.String()),
		zap.String("product_id", product.ExternalID),
		zap.Bool("new", wasNew))
	return product, wasNew, nil
}

func (s *productService) ListProducts(ctx context.Context, profileID uuid.UUID) ([]*models.Product, error) {
	products, err := s.productRepo.ListByProfile(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}
