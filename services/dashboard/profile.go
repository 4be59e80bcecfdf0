package dashboard

import (
	"net/http"

	"github.com/needful-app/needful/internal/database"
	svcerrors "github.com/needful-app/needful/internal/errors"
	"github.com/needful-app/needful/internal/httputil"
	commonservice "github.com/needful-app/needful/services/common/service"
)

const maxProfileFieldLength = 200

// Profile is the caller's account with their listing, if any.
type Profile struct {
	database.User
	Listing *database.Provider `json:"listing,omitempty"`
}

// ProfileRequest edits the caller's own profile. Role is not editable here.
type ProfileRequest struct {
	FullName  *string `json:"full_name,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

func (s *Service) profile(w http.ResponseWriter, r *http.Request, user *database.User) {
	out := Profile{User: *user}
	listing, err := s.db.GetProviderByUser(r.Context(), user.ID)
	switch {
	case err == nil:
		out.Listing = listing
	case !database.IsNotFound(err):
		s.Logger().WithContext(r.Context()).WithError(err).Warn("failed to load listing for profile")
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Service) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	user, err := s.ensureProfile(r.Context())
	if err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "user", userID)
		return
	}
	s.profile(w, r, user)
}

func (s *Service) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var req ProfileRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	req.FullName, req.Phone, req.AvatarURL = trimmed(req.FullName), trimmed(req.Phone), trimmed(req.AvatarURL)
	for field, v := range map[string]*string{"full_name": req.FullName, "phone": req.Phone, "avatar_url": req.AvatarURL} {
		if v != nil && len([]rune(*v)) > maxProfileFieldLength {
			httputil.WriteError(w, r, svcerrors.Validation(field, field+" is too long"))
			return
		}
	}

	ctx := r.Context()
	if _, err := s.ensureProfile(ctx); err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "user", userID)
		return
	}
	now := s.now().UTC()
	user, err := s.db.UpdateUser(ctx, userID, database.UserUpdate{
		FullName:  req.FullName,
		Phone:     req.Phone,
		AvatarURL: req.AvatarURL,
		UpdatedAt: &now,
	})
	if err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "user", userID)
		return
	}
	s.profile(w, r, user)
}
