// Package storetest contains the conformance suite every store backend
// must pass.
package storetest

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/uvensys/linkgate/lib/store"
)

func Common(t *testing.T, f store.Factory, config json.RawMessage) {
	if err := f.Valid(config); err != nil {
		t.Fatal(err)
	}

	s, err := f.Build(t.Context(), config)
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		name string
		doer func(t *testing.T, s store.Interface) error
		err  error
	}{
		{
			name: "basic get set delete",
			doer: func(t *testing.T, s store.Interface) error {
				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to not exist in store but it exists anyways", t.Name())
				}

				if err := s.Set(t.Context(), t.Name(), []byte(t.Name()), 5*time.Minute); err != nil {
					return err
				}

				val, err := s.Get(t.Context(), t.Name())
				if errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to exist in store but it does not: %v", t.Name(), err)
				} else if err != nil {
					t.Error(err)
				}

				if !bytes.Equal(val, []byte(t.Name())) {
					t.Logf("want: %q", t.Name())
					t.Logf("got:  %q", string(val))
					t.Error("wrong value returned")
				}

				if err := s.Delete(t.Context(), t.Name()); err != nil {
					return err
				}

				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Error("wanted test to not exist in store but it exists anyways")
				}

				if err := s.Delete(t.Context(), t.Name()); err == nil {
					t.Errorf("key %q does not exist and Delete did not return non-nil", t.Name())
				}

				return nil
			},
		},
		{
			name: "expires",
			doer: func(t *testing.T, s store.Interface) error {
				if err := s.Set(t.Context(), t.Name(), []byte(t.Name()), 150*time.Millisecond); err != nil {
					return err
				}

				time.Sleep(155 * time.Millisecond)

				if _, err := s.Get(t.Context(), t.Name()); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to not exist in store but it exists anyways", t.Name())
				}

				return nil
			},
		},
		{
			name: "add is insert-if-absent",
			doer: func(t *testing.T, s store.Interface) error {
				if err := s.Add(t.Context(), t.Name(), []byte("first"), 5*time.Minute); err != nil {
					return err
				}

				if err := s.Add(t.Context(), t.Name(), []byte("second"), 5*time.Minute); !errors.Is(err, store.ErrAlreadyExists) {
					t.Errorf("second Add should report ErrAlreadyExists, got: %v", err)
				}

				val, err := s.Get(t.Context(), t.Name())
				if err != nil {
					return err
				}

				if !bytes.Equal(val, []byte("first")) {
					t.Errorf("Add overwrote existing value: %q", string(val))
				}

				return nil
			},
		},
		{
			name: "add after expiry succeeds",
			doer: func(t *testing.T, s store.Interface) error {
				if err := s.Add(t.Context(), t.Name(), []byte("first"), 150*time.Millisecond); err != nil {
					return err
				}

				time.Sleep(155 * time.Millisecond)

				if err := s.Add(t.Context(), t.Name(), []byte("second"), 5*time.Minute); err != nil {
					t.Errorf("Add over an expired value should succeed, got: %v", err)
				}

				return nil
			},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.doer(t, s); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("wrong error")
			}
		})
	}
}
