package catalog_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/catalog"
)

type MockCatalogRepository struct {
	mock.Mock
}

func (m *MockCatalogRepository) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]catalog.Category), args.Error(1)
}

func (m *MockCatalogRepository) CreateCategory(ctx context.Context, c *catalog.Category) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockCatalogRepository) GetCategoryByID(ctx context.Context, id uuid.UUID) (*catalog.Category, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.Category), args.Error(1)
}

func (m *MockCatalogRepository) ListProducts(ctx context.Context, f catalog.ProductFilter) ([]catalog.Product, int, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]catalog.Product), args.Int(1), args.Error(2)
}

func (m *MockCatalogRepository) GetProductBySlug(ctx context.Context, slug string) (*catalog.Product, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.Product), args.Error(1)
}

func (m *MockCatalogRepository) GetProductByID(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.Product), args.Error(1)
}

func (m *MockCatalogRepository) GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]catalog.Product, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]catalog.Product), args.Error(1)
}

func (m *MockCatalogRepository) CreateProduct(ctx context.Context, p *catalog.Product) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockCatalogRepository) UpdateProduct(ctx context.Context, p *catalog.Product) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func TestCatalogService_GetProductBySlug_HidesInactive(t *testing.T) {
	mockRepo := new(MockCatalogRepository)
	svc := catalog.NewService(mockRepo)

	mockRepo.On("GetProductBySlug", mock.Anything, "old-mug").
		Return(&catalog.Product{ID: uuid.Must(uuid.NewV4()), Slug: "old-mug", IsActive: false}, nil).
		Once()

	product, err := svc.GetProductBySlug(context.Background(), "old-mug")
	require.ErrorIs(t, err, catalog.ErrProductNotFound)
	require.Nil(t, product)
	mockRepo.AssertExpectations(t)
}

func TestCatalogService_CreateProduct(t *testing.T) {
	categoryID := uuid.Must(uuid.NewV4())

	tests := []struct {
		name      string
		product   catalog.Product
		setupMock func(m *MockCatalogRepository)
		wantErr   error
	}{
		{
			name:    "success",
			product: catalog.Product{CategoryID: categoryID, Name: "Mug", Slug: "mug", Price: decimal.RequireFromString("12.50"), Stock: 3, IsActive: true},
			setupMock: func(m *MockCatalogRepository) {
				m.On("GetCategoryByID", mock.Anything, categoryID).Return(&catalog.Category{ID: categoryID}, nil).Once()
				m.On("CreateProduct", mock.Anything, mock.AnythingOfType("*catalog.Product")).Return(nil).Once()
			},
		},
		{
			name:      "negative price",
			product:   catalog.Product{CategoryID: categoryID, Slug: "mug", Price: decimal.RequireFromString("-1")},
			setupMock: func(m *MockCatalogRepository) {},
			wantErr:   catalog.ErrInvalidProduct,
		},
		{
			name:    "unknown category",
			product: catalog.Product{CategoryID: categoryID, Slug: "mug", Price: decimal.NewFromInt(1)},
			setupMock: func(m *MockCatalogRepository) {
				m.On("GetCategoryByID", mock.Anything, categoryID).Return(nil, catalog.ErrCategoryNotFound).Once()
			},
			wantErr: catalog.ErrCategoryNotFound,
		},
		{
			name:    "slug conflict",
			product: catalog.Product{CategoryID: categoryID, Slug: "mug", Price: decimal.NewFromInt(1)},
			setupMock: func(m *MockCatalogRepository) {
				m.On("GetCategoryByID", mock.Anything, categoryID).Return(&catalog.Category{ID: categoryID}, nil).Once()
				m.On("CreateProduct", mock.Anything, mock.AnythingOfType("*catalog.Product")).Return(catalog.ErrSlugExists).Once()
			},
			wantErr: catalog.ErrSlugExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockCatalogRepository)
			tt.setupMock(mockRepo)
			svc := catalog.NewService(mockRepo)

			product := tt.product
			created, err := svc.CreateProduct(context.Background(), &product)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.Nil(t, created)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "mug", created.Slug)
			}
			mockRepo.AssertExpectations(t)
		})
	}
}

func TestCatalogService_DeactivateProduct(t *testing.T) {
	mockRepo := new(MockCatalogRepository)
	svc := catalog.NewService(mockRepo)

	id := uuid.Must(uuid.NewV4())
	mockRepo.On("GetProductByID", mock.Anything, id).
		Return(&catalog.Product{ID: id, IsActive: true, Stock: 4}, nil).
		Once()
	mockRepo.On("UpdateProduct", mock.Anything, mock.MatchedBy(func(p *catalog.Product) bool {
		return p.ID == id && !p.IsActive && p.Stock == 4
	})).Return(nil).Once()

	require.NoError(t, svc.DeactivateProduct(context.Background(), id))
	mockRepo.AssertExpectations(t)
}

func TestCatalogService_GetProductsByIDs_IndexesByID(t *testing.T) {
	mockRepo := new(MockCatalogRepository)
	svc := catalog.NewService(mockRepo)

	a, b := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	ids := []uuid.UUID{a, b}
	mockRepo.On("GetProductsByIDs", mock.Anything, ids).
		Return([]catalog.Product{{ID: a, Name: "A"}, {ID: b, Name: "B"}}, nil).
		Once()

	byID, err := svc.GetProductsByIDs(context.Background(), ids)
	require.NoError(t, err)
	assert.Len(t, byID, 2)
	assert.Equal(t, "B", byID[b].Name)

	mockRepo.On("GetProductsByIDs", mock.Anything, []uuid.UUID{a}).Return(nil, errors.New("db down")).Once()
	_, err = svc.GetProductsByIDs(context.Background(), []uuid.UUID{a})
	require.Error(t, err)
	mockRepo.AssertExpectations(t)
}

func TestProduct_Purchasable(t *testing.T) {
	p := catalog.Product{IsActive: true, Stock: 2}
	assert.True(t, p.Purchasable(2))
	assert.False(t, p.Purchasable(3))
	assert.False(t, p.Purchasable(0))

	p.IsActive = false
	assert.False(t, p.Purchasable(1))
}
