// Package demo holds sample executables served by the executables command.
package demo

import (
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"sync"
	"time"

	catalog "github.com/hanpama/executables/internal/catalog"
)

var (
	ErrUserNotFound = errors.New("demo: user not found")
	ErrEmailTaken   = errors.New("demo: email already registered")
	// ErrInvalidUser is also a catalog.ErrInvalidInput.
	ErrInvalidUser = fmt.Errorf("demo: invalid user: %w", catalog.ErrInvalidInput)
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

type NewUser struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Store is an in-memory user store shared by all executions.
type Store struct {
	mu      sync.RWMutex
	users   map[string]User
	byEmail map[string]string
	nextID  int
	now     func() time.Time
}

func NewStore() *Store {
	s := &Store{now: time.Now}
	s.Reset()
	return s
}

// Reset drops every user and restores the seed data.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = make(map[string]User)
	s.byEmail = make(map[string]string)
	s.nextID = 1
	for _, u := range []NewUser{
		{Email: "john@example.com", Name: "John Doe"},
		{Email: "jane@example.com", Name: "Jane Smith"},
	} {
		s.insert(u)
	}
}

func (s *Store) insert(in NewUser) User {
	u := User{
		ID:        fmt.Sprintf("user-%d", s.nextID),
		Email:     in.Email,
		Name:      in.Name,
		Active:    true,
		CreatedAt: s.now().UTC(),
	}
	s.nextID++
	s.users[u.ID] = u
	s.byEmail[strings.ToLower(u.Email)] = u.ID
	return u
}

func validate(in NewUser) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidUser)
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return fmt.Errorf("%w: email %q: %v", ErrInvalidUser, in.Email, err)
	}
	return nil
}

// Create validates in and stores a new user.
func (s *Store) Create(in NewUser) (User, error) {
	if err := validate(in); err != nil {
		return User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[strings.ToLower(in.Email)]; ok {
		return User{}, fmt.Errorf("%w: %s", ErrEmailTaken, in.Email)
	}
	return s.insert(in), nil
}

func (s *Store) Get(id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: %q", ErrUserNotFound, id)
	}
	return u, nil
}

// List returns users ordered by ID.
func (s *Store) List() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUserNotFound, id)
	}
	delete(s.users, id)
	delete(s.byEmail, strings.ToLower(u.Email))
	return nil
}
