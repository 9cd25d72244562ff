package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/fernwell/api/internal/domain"
	pfirestore "github.com/fernwell/api/internal/platform/firestore"
)

const customersCollection = "customers"

// CustomerRepository persists customers in the customers collection keyed by ULID.
type CustomerRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[customerDocument]
}

// NewCustomerRepository constructs a CustomerRepository.
func NewCustomerRepository(provider *pfirestore.Provider) (*CustomerRepository, error) {
	if provider == nil {
		return nil, errors.New("customer repository requires firestore provider")
	}
	return &CustomerRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[customerDocument](provider, customersCollection, nil),
	}, nil
}

// Get fetches a customer by ID.
func (r *CustomerRepository) Get(ctx context.Context, id string) (domain.Customer, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Customer{}, errors.New("customer get: id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByEmailOrPhone returns the first customer matching either contact field.
func (r *CustomerRepository) FindByEmailOrPhone(ctx context.Context, email, phone string) (domain.Customer, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	phone = strings.TrimSpace(phone)
	if email == "" && phone == "" {
		return domain.Customer{}, errors.New("customer lookup: email or phone is required")
	}

	if email != "" {
		docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("email", "==", email).Limit(1)
		})
		if err != nil {
			return domain.Customer{}, err
		}
		if len(docs) > 0 {
			return docs[0].Data.toDomain(docs[0].ID), nil
		}
	}

	if phone != "" {
		docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("phone", "==", phone).Limit(1)
		})
		if err != nil {
			return domain.Customer{}, err
		}
		if len(docs) > 0 {
			return docs[0].Data.toDomain(docs[0].ID), nil
		}
	}

	return domain.Customer{}, pfirestore.NewNotFound("customers.lookup", fmt.Errorf("no customer for email %q or phone %q", email, phone))
}

// Create writes a new customer and fails with a conflict when the ID exists.
func (r *CustomerRepository) Create(ctx context.Context, customer domain.Customer) error {
	if strings.TrimSpace(customer.ID) == "" {
		return errors.New("customer create: id is required")
	}

	ref, err := r.base.DocumentRef(ctx, customer.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newCustomerDocument(customer)); err != nil {
		return pfirestore.WrapError("customers.create", err)
	}
	return nil
}

type customerDocument struct {
	Email     string    `firestore:"email"`
	Phone     string    `firestore:"phone,omitempty"`
	Name      string    `firestore:"name,omitempty"`
	AccountID string    `firestore:"accountId,omitempty"`
	Guest     bool      `firestore:"guest"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func newCustomerDocument(customer domain.Customer) customerDocument {
	return customerDocument{
		Email:     strings.ToLower(strings.TrimSpace(customer.Email)),
		Phone:     strings.TrimSpace(customer.Phone),
		Name:      strings.TrimSpace(customer.Name),
		AccountID: strings.TrimSpace(customer.AccountID),
		Guest:     customer.Guest,
		CreatedAt: customer.CreatedAt.UTC(),
	}
}

func (d customerDocument) toDomain(id string) domain.Customer {
	return domain.Customer{
		ID:        id,
		Email:     d.Email,
		Phone:     d.Phone,
		Name:      d.Name,
		AccountID: d.AccountID,
		Guest:     d.Guest,
		CreatedAt: d.CreatedAt,
	}
}
