package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/barcodedrop/barcodedrop-server/internal/domain"
	domainerrors "github.com/barcodedrop/barcodedrop-server/internal/errors"
	"github.com/barcodedrop/barcodedrop-server/internal/http/response"
	"github.com/barcodedrop/barcodedrop-server/internal/protocol"
)

// HeaderBarcodeID carries the id of the scan a response is about.
const HeaderBarcodeID = "Barcode-Id"

// maxScanBody bounds POST /scan request bodies.
const maxScanBody = 64 << 10

// barcodeKeys are the body and query keys accepted for the scanned text, in
// order of preference.
var barcodeKeys = []string{"barcode", "text"}

// Listing formats.
const (
	FormatJSON         = "json"
	FormatBarcodesOnly = "barcodes-only"
	FormatBarcodeOnly  = "barcode-only"
)

func (s *Server) registerScanRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listScans",
		Method:      http.MethodGet,
		Path:        "/scans",
		Summary:     "List scans",
		Description: "Returns every scan, newest first, as JSON or as newline separated barcodes",
		Tags:        []string{"Scans"},
	}, s.handleListScans)

	huma.Register(s.api, huma.Operation{
		OperationID: "listUserScans",
		Method:      http.MethodGet,
		Path:        "/scans/{user}",
		Summary:     "List a user's scans",
		Description: "Returns the scans of one user, newest first",
		Tags:        []string{"Scans"},
	}, s.handleListUserScans)

	huma.Register(s.api, huma.Operation{
		OperationID: "latestScan",
		Method:      http.MethodGet,
		Path:        "/scans/{user}/latest",
		Summary:     "Latest scan",
		Description: "Returns the most recent scan of a user, or 204 when there is none",
		Tags:        []string{"Scans"},
	}, s.handleLatestScan)

	huma.Register(s.api, huma.Operation{
		OperationID: "listUsers",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
		Description: "Returns every user that owns at least one scan",
		Tags:        []string{"Scans"},
	}, s.handleListUsers)
}

// === DTOs ===

// ScanResponse is a scan as returned by the listing routes. It has the
// same shape as a sync record.
type ScanResponse = protocol.Record

// scanRequest is the decoded POST /scan input.
type scanRequest struct {
	Barcode string `json:"barcode" validate:"barcode"`
}

// ListScansInput selects the response format.
type ListScansInput struct {
	Format string `query:"format" enum:"json,barcodes-only" default:"json" doc:"Response format"`
}

// ListUserScansInput selects a user's scans.
type ListUserScansInput struct {
	User   string `path:"user" doc:"User name"`
	Format string `query:"format" enum:"json,barcodes-only" default:"json" doc:"Response format"`
}

// ScansOutput is either a JSON array of scans or plain text.
type ScansOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// LatestScanInput selects a user's latest scan.
type LatestScanInput struct {
	User   string `path:"user" doc:"User name"`
	Format string `query:"format" enum:"json,barcode-only" default:"json" doc:"Response format"`
}

// LatestScanOutput is a single scan, or an empty 204.
type LatestScanOutput struct {
	Status      int
	ContentType string `header:"Content-Type"`
	BarcodeID   string `header:"Barcode-Id"`
	Body        []byte
}

// UsersOutput lists users.
type UsersOutput struct {
	Body []string
}

// === Handlers ===

// handleScan records a scan. The barcode is read from a JSON or form body
// under "barcode" or "text", falling back to the query string.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")

	barcode, err := barcodeFromRequest(r)
	if err != nil {
		s.logger.Warn("could not read barcode",
			"user", user,
			"content_type", r.Header.Get("Content-Type"),
			"error", err,
		)
		response.Error(w, err, s.logger)
		return
	}

	if err := s.validator.Validate(scanRequest{Barcode: barcode}); err != nil {
		response.Error(w, err, s.logger)
		return
	}

	scan, err := s.scans.Record(r.Context(), user, barcode)
	if err != nil {
		response.Error(w, err, s.logger)
		return
	}

	w.Header().Set(HeaderBarcodeID, scan.ID)
	response.Text(w, http.StatusOK, fmt.Sprintf("user '%s' scanned '%s' (id: %s)", scan.User, scan.Barcode, scan.ID))
}

// barcodeFromRequest returns the first barcode found in the body, then the
// query string.
func barcodeFromRequest(r *http.Request) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxScanBody+1))
	if err != nil {
		return "", domainerrors.BadRequest("could not read request body").WithCause(err)
	}
	if len(body) > maxScanBody {
		return "", domainerrors.BadRequestf("request body exceeds %d bytes", maxScanBody)
	}

	if len(body) > 0 {
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		switch {
		case strings.HasSuffix(mediaType, "json"):
			if v, ok := barcodeFromJSON(body); ok {
				return v, nil
			}
		case mediaType == "application/x-www-form-urlencoded":
			if v, ok := barcodeFromForm(body); ok {
				return v, nil
			}
		default:
			if v, ok := barcodeFromJSON(body); ok {
				return v, nil
			}
			if v, ok := barcodeFromForm(body); ok {
				return v, nil
			}
		}
	}

	query := r.URL.Query()
	for _, key := range barcodeKeys {
		if query.Has(key) {
			return query.Get(key), nil
		}
	}

	return "", domainerrors.BadRequestf("expected one of the following keys in the request body or query: %s",
		strings.Join(barcodeKeys, ", "))
}

func barcodeFromJSON(body []byte) (string, bool) {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", false
	}
	for _, key := range barcodeKeys {
		if v, ok := fields[key].(string); ok {
			return v, true
		}
	}
	return "", false
}

func barcodeFromForm(body []byte) (string, bool) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return "", false
	}
	for _, key := range barcodeKeys {
		if values.Has(key) {
			return values.Get(key), true
		}
	}
	return "", false
}

func (s *Server) handleListScans(ctx context.Context, input *ListScansInput) (*ScansOutput, error) {
	scans, err := s.scans.List(ctx, "")
	if err != nil {
		return nil, err
	}
	return formatScans(scans, input.Format)
}

func (s *Server) handleListUserScans(ctx context.Context, input *ListUserScansInput) (*ScansOutput, error) {
	scans, err := s.scans.List(ctx, input.User)
	if err != nil {
		return nil, err
	}
	return formatScans(scans, input.Format)
}

func formatScans(scans []*domain.Scan, format string) (*ScansOutput, error) {
	if format == FormatBarcodesOnly {
		lines := make([]string, len(scans))
		for i, scan := range scans {
			lines[i] = scan.Barcode
		}
		return &ScansOutput{
			ContentType: "text/plain; charset=utf-8",
			Body:        []byte(strings.Join(lines, "\n")),
		}, nil
	}

	body, err := json.Marshal(protocol.RecordsFromScans(scans))
	if err != nil {
		return nil, domainerrors.Internal("encode scans").WithCause(err)
	}
	return &ScansOutput{ContentType: "application/json", Body: body}, nil
}

func (s *Server) handleLatestScan(ctx context.Context, input *LatestScanInput) (*LatestScanOutput, error) {
	scan, err := s.scans.Latest(ctx, input.User)
	if domainerrors.Is(err, domainerrors.ErrNotFound) {
		return &LatestScanOutput{Status: http.StatusNoContent}, nil
	}
	if err != nil {
		return nil, err
	}

	out := &LatestScanOutput{Status: http.StatusOK, BarcodeID: scan.ID}
	if input.Format == FormatBarcodeOnly {
		out.ContentType = "text/plain; charset=utf-8"
		out.Body = []byte(scan.Barcode)
		return out, nil
	}

	body, err := json.Marshal(protocol.RecordFromScan(scan))
	if err != nil {
		return nil, domainerrors.Internal("encode scan").WithCause(err)
	}
	out.ContentType = "application/json"
	out.Body = body
	return out, nil
}

func (s *Server) handleListUsers(ctx context.Context, _ *struct{}) (*UsersOutput, error) {
	users, err := s.scans.Users(ctx)
	if err != nil {
		return nil, err
	}
	return &UsersOutput{Body: users}, nil
}
