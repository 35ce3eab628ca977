package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clinicops/appointments/internal/fault"
)

// HTTPVerifier talks to the security service's REST API.
type HTTPVerifier struct {
	baseURL string
	client  *http.Client
}

func NewHTTPVerifier(baseURL string) *HTTPVerifier {
	return &HTTPVerifier{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (v *HTTPVerifier) GetDoctor(ctx context.Context, id, credential string) (Doctor, error) {
	var doc Doctor
	if err := v.getJSON(ctx, "/users/doctors/"+url.PathEscape(id), credential, &doc, "doctor"); err != nil {
		return Doctor{}, err
	}
	if doc.ID == "" {
		doc.ID = id
	}
	return doc, nil
}

func (v *HTTPVerifier) GetPatient(ctx context.Context, id, credential string) (Patient, error) {
	var pat Patient
	if err := v.getJSON(ctx, "/users/patients/"+url.PathEscape(id), credential, &pat, "patient"); err != nil {
		return Patient{}, err
	}
	if pat.ID == "" {
		pat.ID = id
	}
	return pat, nil
}

func (v *HTTPVerifier) DoctorsBySpecialty(ctx context.Context, specialty, credential string) ([]Doctor, error) {
	var docs []Doctor
	path := "/users/doctors?specialty=" + url.QueryEscape(specialty)
	if err := v.getJSON(ctx, path, credential, &docs, "doctors"); err != nil {
		return nil, err
	}
	return docs, nil
}

func (v *HTTPVerifier) getJSON(ctx context.Context, path, credential string, out any, what string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+path, nil)
	if err != nil {
		return fault.Wrap(fault.KindUpstream, err, "building %s request", what)
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return fault.Wrap(fault.KindUpstream, err, "security service unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fault.New(fault.KindNotFound, "%s not found", what)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fault.New(fault.KindUpstream, "security service rejected the credential (%d)", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fault.New(fault.KindUpstream, "security service returned %d for %s lookup", resp.StatusCode, what)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fault.Wrap(fault.KindUpstream, err, "decoding %s response", what)
	}
	return nil
}
