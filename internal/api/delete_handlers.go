package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

func (s *Server) registerDeleteRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "deleteAllScans",
		Method:      http.MethodDelete,
		Path:        "/all-scans",
		Summary:     "Delete all scans",
		Tags:        []string{"Delete"},
	}, s.handleDeleteAll)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteAllExceptLast",
		Method:      http.MethodDelete,
		Path:        "/all-scans/except-last",
		Summary:     "Delete all but the newest scans",
		Description: "Keeps the newest n scans across all users and deletes the rest",
		Tags:        []string{"Delete"},
	}, s.handleDeleteAllExceptLast)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteAllOlder",
		Method:      http.MethodDelete,
		Path:        "/all-scans/older",
		Summary:     "Delete old scans",
		Description: "Deletes scans older than t seconds across all users",
		Tags:        []string{"Delete"},
	}, s.handleDeleteAllOlder)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteUserScans",
		Method:      http.MethodDelete,
		Path:        "/scans/{user}",
		Summary:     "Delete a user's scans",
		Tags:        []string{"Delete"},
	}, s.handleDeleteUser)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteUserExceptLast",
		Method:      http.MethodDelete,
		Path:        "/scans/{user}/except-last",
		Summary:     "Delete all but a user's newest scans",
		Tags:        []string{"Delete"},
	}, s.handleDeleteUserExceptLast)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteUserOlder",
		Method:      http.MethodDelete,
		Path:        "/scans/{user}/older",
		Summary:     "Delete a user's old scans",
		Tags:        []string{"Delete"},
	}, s.handleDeleteUserOlder)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteScans",
		Method:      http.MethodDelete,
		Path:        "/scans",
		Summary:     "Delete scans by id or user",
		Description: "Deletes every scan whose id is listed in ids or whose user is listed in users",
		Tags:        []string{"Delete"},
	}, s.handleDeleteMatching)
}

// === DTOs ===

// DeleteOutput reports how many scans a delete removed.
type DeleteOutput struct {
	Body DeleteResponse
}

// DeleteResponse is the body of every delete route.
type DeleteResponse struct {
	Deleted int `json:"deleted" doc:"Number of scans deleted"`
}

// ExceptLastInput keeps the newest N scans.
type ExceptLastInput struct {
	N int `query:"n" default:"5" minimum:"0" doc:"Number of newest scans to keep"`
}

// OlderInput selects scans older than T seconds.
type OlderInput struct {
	T int `query:"t" default:"3600" minimum:"0" doc:"Age in seconds"`
}

// UserInput selects a user.
type UserInput struct {
	User string `path:"user" doc:"User name"`
}

// UserExceptLastInput keeps a user's newest N scans.
type UserExceptLastInput struct {
	User string `path:"user" doc:"User name"`
	N    int    `query:"n" default:"5" minimum:"0" doc:"Number of newest scans to keep"`
}

// UserOlderInput selects a user's scans older than T seconds.
type UserOlderInput struct {
	User string `path:"user" doc:"User name"`
	T    int    `query:"t" default:"3600" minimum:"0" doc:"Age in seconds"`
}

// DeleteScansRequest lists the ids and users to delete.
type DeleteScansRequest struct {
	IDs   []string `json:"ids,omitempty" validate:"required_without=Users,dive,scanid" doc:"Scan ids"`
	Users []string `json:"users,omitempty" validate:"required_without=IDs" doc:"User names"`
}

// DeleteScansInput accepts ids and users in the body, the query, or both.
type DeleteScansInput struct {
	IDs   string              `query:"ids" doc:"Comma separated scan ids"`
	Users string              `query:"users" doc:"Comma separated user names"`
	Body  *DeleteScansRequest `required:"false"`
}

// === Handlers ===

func (s *Server) handleDeleteAll(ctx context.Context, _ *struct{}) (*DeleteOutput, error) {
	n, err := s.scans.DeleteAll(ctx)
	return deleted(n, err)
}

func (s *Server) handleDeleteAllExceptLast(ctx context.Context, input *ExceptLastInput) (*DeleteOutput, error) {
	n, err := s.scans.DeleteExceptLast(ctx, "", input.N)
	return deleted(n, err)
}

func (s *Server) handleDeleteAllOlder(ctx context.Context, input *OlderInput) (*DeleteOutput, error) {
	n, err := s.scans.DeleteOlderThan(ctx, "", seconds(input.T))
	return deleted(n, err)
}

func (s *Server) handleDeleteUser(ctx context.Context, input *UserInput) (*DeleteOutput, error) {
	n, err := s.scans.DeleteForUser(ctx, input.User)
	return deleted(n, err)
}

func (s *Server) handleDeleteUserExceptLast(ctx context.Context, input *UserExceptLastInput) (*DeleteOutput, error) {
	n, err := s.scans.DeleteExceptLast(ctx, input.User, input.N)
	return deleted(n, err)
}

func (s *Server) handleDeleteUserOlder(ctx context.Context, input *UserOlderInput) (*DeleteOutput, error) {
	n, err := s.scans.DeleteOlderThan(ctx, input.User, seconds(input.T))
	return deleted(n, err)
}

func (s *Server) handleDeleteMatching(ctx context.Context, input *DeleteScansInput) (*DeleteOutput, error) {
	req := DeleteScansRequest{
		IDs:   splitList(input.IDs),
		Users: splitList(input.Users),
	}
	if input.Body != nil {
		req.IDs = append(req.IDs, input.Body.IDs...)
		req.Users = append(req.Users, input.Body.Users...)
	}

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	n, err := s.scans.DeleteMatching(ctx, req.IDs, req.Users)
	return deleted(n, err)
}

func deleted(n int, err error) (*DeleteOutput, error) {
	if err != nil {
		return nil, err
	}
	return &DeleteOutput{Body: DeleteResponse{Deleted: n}}, nil
}

func seconds(t int) time.Duration {
	return time.Duration(t) * time.Second
}

// splitList splits a comma separated query value, dropping empty items.
func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
