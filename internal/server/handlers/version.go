package handlers

import (
	"net/http"
	"sync/atomic"

	"github.com/xwander/tablewright/internal/appid"
)

var identity atomic.Pointer[appid.Identity]

// SetAppIdentity overrides the identity reported by /version.
func SetAppIdentity(id appid.Identity) {
	identity.Store(&id)
}

func currentIdentity() appid.Identity {
	if id := identity.Load(); id != nil {
		return *id
	}
	return appid.Get()
}

// VersionHandler serves the build and runtime report.
func VersionHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, appid.Describe(currentIdentity()))
}
