//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package httpapi provides a demo HTTP/REST binding for the external
// boundary, suitable for local testing and as a stand-in for the real
// platform transport (D-Bus on Linux), which is explicitly out of scope
// for this repository.
//
// # Usage
//
//	a, _ := authority.New(opts)
//	b := boundary.New(a, "polkitd", version.GetVersion(), nil)
//	server, err := httpapi.CreateServer(b, 8080)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer server.Stop(context.Background())
package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/polkit-go/polkitd/internal/engine"
	"github.com/polkit-go/polkitd/internal/logging"
	"github.com/polkit-go/polkitd/pkg/polkit/boundary"
	"github.com/polkit-go/polkitd/pkg/polkit/common"
	"github.com/polkit-go/polkitd/pkg/polkit/identity"
)

var logger = logging.GetLogger("httpapi")

const logAgent = "httpapi"

// Server is the demo HTTP server exposing a [boundary.Boundary].
type Server struct {
	echo *echo.Echo
}

// checkAuthorizationRequest is the JSON body of POST /check_authorization.
type checkAuthorizationRequest struct {
	SubjectPID       int               `json:"subject_pid"`
	SubjectStartTime uint64            `json:"subject_start_time"`
	ActionID         string            `json:"action_id"`
	Details          map[string]string `json:"details,omitempty"`
	AllowInteraction bool              `json:"allow_user_interaction"`
	CancellationID   string            `json:"cancellation_id,omitempty"`
}

type checkAuthorizationResponse struct {
	IsAuthorized bool              `json:"is_authorized"`
	IsChallenge  bool              `json:"is_challenge"`
	Details      map[string]string `json:"details,omitempty"`
}

// CreateServer starts a demo decision-point HTTP server wrapping b,
// listening on port. The server runs in a background goroutine; use
// [Server.Stop] to shut it down.
func CreateServer(b *boundary.Boundary, port int) (*Server, error) {
	e := echo.New()
	e.HideBanner = true

	e.POST("/check_authorization", func(c echo.Context) error {
		var req checkAuthorizationRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody(err))
		}

		subject, err := identity.NewUnixProcess(req.SubjectPID, req.SubjectStartTime, nil)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody(err))
		}

		flags := engine.Flags(0)
		if req.AllowInteraction {
			flags |= engine.FlagAllowUserInteraction
		}

		peer := boundary.PeerCredentials{BusName: c.RealIP()}
		result, err := b.CheckAuthorization(c.Request().Context(), peer, subject, req.ActionID, req.Details, flags, req.CancellationID)
		if err != nil {
			return c.JSON(statusFor(err), errorBody(err))
		}

		return c.JSON(http.StatusOK, checkAuthorizationResponse{
			IsAuthorized: result.IsAuthorized,
			IsChallenge:  result.IsChallenge,
			Details:      result.Details,
		})
	})

	e.POST("/cancel_check_authorization/:cancellation_id", func(c echo.Context) error {
		peer := boundary.PeerCredentials{BusName: c.RealIP()}
		if err := b.CancelCheckAuthorization(peer, c.Param("cancellation_id")); err != nil {
			return c.JSON(statusFor(err), errorBody(err))
		}
		return c.NoContent(http.StatusNoContent)
	})

	e.GET("/enumerate_actions", func(c echo.Context) error {
		locale := c.QueryParam("locale")
		return c.JSON(http.StatusOK, b.EnumerateActions(locale))
	})

	e.GET("/backend_info", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"name":     b.BackendName,
			"version":  b.BackendVersion,
			"features": b.BackendFeatures,
		})
	})

	go func() {
		if err := e.Start(fmt.Sprintf(":%d", port)); err != nil && err != http.ErrServerClosed {
			logger.Errorf(logAgent, "CreateServer", "server stopped: %+v", err)
		}
	}()

	return &Server{echo: e}, nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func errorBody(err error) map[string]string {
	code := "Internal"
	if ee, ok := err.(*common.EngineError); ok {
		code = string(ee.Code)
	}
	return map[string]string{"error": code, "message": err.Error()}
}

func statusFor(err error) int {
	switch {
	case common.Is(err, common.ErrInvalidArgument):
		return http.StatusBadRequest
	case common.Is(err, common.ErrNotAuthorized):
		return http.StatusForbidden
	case common.Is(err, common.ErrAgentUnavailable):
		return http.StatusServiceUnavailable
	case common.Is(err, common.ErrCancelled):
		return http.StatusConflict
	case common.Is(err, common.ErrAlreadyExists):
		return http.StatusConflict
	case common.Is(err, common.ErrTimedOut):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
