package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/chatpay/internal/domain"
)

// contactLookup is the case-insensitive key a contact is found by.
func contactLookup(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SaveContact stores c under its owner, replacing a contact of the same name.
func (s *MemoryStore) SaveContact(_ context.Context, identity domain.Identity, c domain.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.contacts[identity]
	if !ok {
		book = make(map[string]domain.Contact)
		s.contacts[identity] = book
	}
	book[contactLookup(c.Name)] = c
	return nil
}

func (s *MemoryStore) LookupContact(_ context.Context, identity domain.Identity, name string) (domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contacts[identity][contactLookup(name)]
	if !ok {
		return domain.Contact{}, fmt.Errorf("contact %q: %w", name, domain.ErrUnknownReference)
	}
	return c, nil
}

// ListContacts returns the owner's contacts ordered by name.
func (s *MemoryStore) ListContacts(_ context.Context, identity domain.Identity) ([]domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Contact, 0, len(s.contacts[identity]))
	for _, c := range s.contacts[identity] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return contactLookup(out[i].Name) < contactLookup(out[j].Name) })
	return out, nil
}

func (s *Store) SaveContact(ctx context.Context, identity domain.Identity, c domain.Contact) error {
	_, err := s.Db.Exec(ctx,
		`INSERT INTO contacts (identity, lookup, name, key, key_type, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (identity, lookup) DO UPDATE
		 SET name = EXCLUDED.name, key = EXCLUDED.key, key_type = EXCLUDED.key_type, updated_at = now()`,
		string(identity), contactLookup(c.Name), c.Name, c.Key, string(c.KeyType))
	if err != nil {
		return fmt.Errorf("save contact: %w", err)
	}
	return nil
}

func (s *Store) LookupContact(ctx context.Context, identity domain.Identity, name string) (domain.Contact, error) {
	var (
		c       domain.Contact
		keyType string
	)
	err := s.Db.QueryRow(ctx,
		"SELECT name, key, key_type FROM contacts WHERE identity = $1 AND lookup = $2",
		string(identity), contactLookup(name)).Scan(&c.Name, &c.Key, &keyType)
	if err != nil {
		return domain.Contact{}, notFound(err, "contact", name)
	}
	c.KeyType = domain.KeyType(keyType)
	return c, nil
}

func (s *Store) ListContacts(ctx context.Context, identity domain.Identity) ([]domain.Contact, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT name, key, key_type FROM contacts WHERE identity = $1 ORDER BY lookup",
		string(identity))
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	contacts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Contact, error) {
		var (
			c       domain.Contact
			keyType string
		)
		err := row.Scan(&c.Name, &c.Key, &keyType)
		c.KeyType = domain.KeyType(keyType)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan contacts: %w", err)
	}
	return contacts, nil
}
