package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/clinicops/appointments/internal/fault"
)

func TestHTTPVerifier_GetDoctor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/users/doctors/65a000000000000000000001":
			_ = json.NewEncoder(w).Encode(Doctor{
				ID: "65a000000000000000000001", Role: RoleDoctor, Status: StatusActive, Specialty: "cardiology",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL)
	ctx := context.Background()

	doc, err := v.GetDoctor(ctx, "65a000000000000000000001", "tok-1")
	if err != nil {
		t.Fatalf("get doctor: %v", err)
	}
	if doc.Specialty != "cardiology" || doc.Status != StatusActive {
		t.Fatalf("unexpected doctor: %+v", doc)
	}

	if _, err := v.GetDoctor(ctx, "65a0000000000000000000ff", "tok-1"); !fault.IsNotFound(err) {
		t.Fatalf("expected not_found for unknown doctor, got %v", err)
	}
	if _, err := v.GetDoctor(ctx, "65a000000000000000000001", "bad-token"); !fault.IsUpstream(err) {
		t.Fatalf("expected upstream error for rejected credential, got %v", err)
	}
}

func TestHTTPVerifier_DoctorsBySpecialty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/doctors" || r.URL.Query().Get("specialty") != "dermatology" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode([]Doctor{
			{ID: "d1", Status: StatusActive, Specialty: "dermatology"},
			{ID: "d2", Status: StatusInactive, Specialty: "dermatology"},
		})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL)
	docs, err := v.DoctorsBySpecialty(context.Background(), "dermatology", "tok")
	if err != nil {
		t.Fatalf("doctors by specialty: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 doctors, got %d", len(docs))
	}
}

func TestHTTPVerifier_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id": "d1", "status":`))
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL)
	_, err := v.GetDoctor(context.Background(), "65a000000000000000000001", "tok")
	if !fault.IsUpstream(err) {
		t.Fatalf("expected upstream error for truncated body, got %v", err)
	}
	if !strings.Contains(err.Error(), "decoding doctor response") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestHTTPVerifier_Unreachable(t *testing.T) {
	v := NewHTTPVerifier("http://127.0.0.1:1")
	if _, err := v.GetPatient(context.Background(), "p1", "tok"); !fault.IsUpstream(err) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}
