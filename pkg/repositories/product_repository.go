package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-onboard/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-onboard/pkg/database"
	"github.com/ekaya-inc/ekaya-onboard/pkg/models"
)

// ProductRepository provides data access for profile products.
type ProductRepository interface {
	Create(ctx context.Context, product *models.Product) error
	Update(ctx context.Context, product *models.Product) error
	// GetByExternalID finds a product of the profile by its non-empty external id.
	GetByExternalID(ctx context.Context, profileID uuid.UUID, externalID string) (*models.Product, error)
	// ListByProfile returns products in insertion order.
	ListByProfile(ctx context.Context, profileID uuid.UUID) ([]*models.Product, error)
	CountByProfile(ctx context.Context, profileID uuid.UUID) (int, error)
	// CopyToProfile duplicates every product of src onto dst with fresh ids.
	CopyToProfile(ctx context.Context, srcProfileID, dstProfileID uuid.UUID) (int64, error)
}

type productRepository struct{}

// NewProductRepository creates a new ProductRepository.
func NewProductRepository() ProductRepository {
	return &productRepository{}
}

var _ ProductRepository = (*productRepository)(nil)

const productColumns = `id, profile_id, external_id, product_name, price, main_raw_materials,
		product_standard, technical_advantages, created_at, updated_at`

func (r *productRepository) Create(ctx context.Context, product *models.Product) error {
	scope, ok := database.GetUserScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	if product.Name == "" {
		return apperrors.ErrProductNameRequired
	}
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	now := time.Now()
	product.CreatedAt = now
	product.UpdatedAt = now

	query := `
		INSERT INTO onboarding_products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := scope.Conn.Exec(ctx, query,
		product.ID, product.ProfileID, product.ExternalID, product.Name, product.Price,
		product.MainRawMaterials, product.ProductStandard, product.TechnicalAdvantages,
		product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}

	return nil
}

func (r *productRepository) Update(ctx context.Context, product *models.Product) error {
	scope, ok := database.GetUserScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	query := `
		UPDATE onboarding_products
		SET external_id = $2,
		    product_name = $3,
		    price = $4,
		    main_raw_materials = $5,
		    product_standard = $6,
		    technical_advantages = $7
		WHERE id = $1
		RETURNING updated_at`

	err := scope.Conn.QueryRow(ctx, query,
		product.ID, product.ExternalID, product.Name, product.Price,
		product.MainRawMaterials, product.ProductStandard, product.TechnicalAdvantages,
	).Scan(&product.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update product: %w", err)
	}

	return nil
}

func (r *productRepository) GetByExternalID(ctx context.Context, profileID uuid.UUID, externalID string) (*models.Product, error) {
	scope, ok := database.GetUserScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `
		SELECT ` + productColumns + `
		FROM onboarding_products
		WHERE profile_id = $1 AND external_id = $2 AND external_id <> ''`

	p, err := scanProduct(scope.Conn.QueryRow(ctx, query, profileID, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

func (r *productRepository) ListByProfile(ctx context.Context, profileID uuid.UUID) ([]*models.Product, error) {
	scope, ok := database.GetUserScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `
		SELECT ` + productColumns + `
		FROM onboarding_products
		WHERE profile_id = $1
		ORDER BY created_at, id`

	rows, err := scope.Conn.Query(ctx, query, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	products := make([]*models.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}

	return products, nil
}

func (r *productRepository) CountByProfile(ctx context.Context, profileID uuid.UUID) (int, error) {
	scope, ok := database.GetUserScope(ctx)
	if !ok {
		return 0, database.ErrNoScope
	}

	var count int
	err := scope.Conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM onboarding_products WHERE profile_id = $1`, profileID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return count, nil
}

func (r *productRepository) CopyToProfile(ctx context.Context, srcProfileID, dstProfileID uuid.UUID) (int64, error) {
	scope, ok := database.GetUserScope(ctx)
	if !ok {
		return 0, database.ErrNoScope
	}

	// created_at is carried over so the copy keeps the original order.
	query := `
		INSERT INTO onboarding_products (id, profile_id, external_id, product_name, price,
			main_raw_materials, product_standard, technical_advantages, created_at, updated_at)
		SELECT gen_random_uuid(), $2, external_id, product_name, price,
			main_raw_materials, product_standard, technical_advantages, created_at, NOW()
		FROM onboarding_products
		WHERE profile_id = $1`

	tag, err := scope.Conn.Exec(ctx, query, srcProfileID, dstProfileID)
	if err != nil {
		return 0, fmt.Errorf("failed to copy products: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanProduct(row pgx.Row) (*models.Product, error) {
	var p models.Product
	err := row.Scan(
		&p.ID, &p.ProfileID, &p.ExternalID, &p.Name, &p.Price,
		&p.MainRawMaterials, &p.ProductStandard, &p.TechnicalAdvantages,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
