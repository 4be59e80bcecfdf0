package dashboard

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/needful-app/needful/internal/database"
	svcerrors "github.com/needful-app/needful/internal/errors"
	"github.com/needful-app/needful/internal/httputil"
	"github.com/needful-app/needful/internal/media"
	commonservice "github.com/needful-app/needful/services/common/service"
)

const (
	uploadField      = "file"
	maxCaptionLength = 280
)

func (s *Service) writeStorageError(w http.ResponseWriter, r *http.Request, err error, message string) {
	s.Logger().WithContext(r.Context()).WithError(err).Error(message)
	httputil.WriteError(w, r, svcerrors.Upstream(message, err))
}

// discard removes an object whose row could not be written.
func (s *Service) discard(ctx context.Context, bucket media.Bucket, objectPath string) {
	if err := bucket.Remove(ctx, objectPath); err != nil {
		s.Logger().WithContext(ctx).WithError(err).WithField("path", objectPath).Warn("failed to remove orphaned object")
	}
}

func caption(values map[string]string) (string, error) {
	c := strings.TrimSpace(values["caption"])
	if len([]rune(c)) > maxCaptionLength {
		return "", svcerrors.Validation("caption", "caption is too long")
	}
	return c, nil
}

func (s *Service) handleListImages(w http.ResponseWriter, r *http.Request) {
	provider, ok := s.ownListing(w, r)
	if !ok {
		return
	}
	images, err := s.db.ListImages(r.Context(), provider.ID)
	if err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "images", provider.ID)
		return
	}
	if images == nil {
		images = []database.ProviderImage{}
	}
	httputil.WriteJSON(w, http.StatusOK, images)
}

func (s *Service) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	provider, ok := s.ownListing(w, r)
	if !ok {
		return
	}
	if s.images == nil {
		httputil.WriteError(w, r, svcerrors.Unavailable("image storage is not configured", nil))
		return
	}
	ctx := r.Context()

	existing, err := s.db.ListImages(ctx, provider.ID)
	if err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "images", provider.ID)
		return
	}
	if len(existing) >= maxGalleryImages {
		httputil.WriteError(w, r, svcerrors.Conflict("gallery is full, delete an image first"))
		return
	}

	upload, values, err := media.ReadUpload(w, r, uploadField, s.maxImageBytes, media.KindImage)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	text, err := caption(values)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	objectPath := media.ObjectPath(provider.ID, upload.ContentType)
	url, err := s.images.Put(ctx, objectPath, upload.Data, upload.ContentType)
	if err != nil {
		s.writeStorageError(w, r, err, "image upload failed")
		return
	}

	order := 0
	for _, img := range existing {
		order = max(order, img.DisplayOrder+1)
	}
	img, err := s.db.CreateImage(ctx, database.ProviderImage{
		ProviderID:   provider.ID,
		ImageURL:     url,
		StoragePath:  objectPath,
		Caption:      text,
		DisplayOrder: order,
	})
	if err != nil {
		s.discard(ctx, s.images, objectPath)
		commonservice.WriteStoreError(w, r, s.Logger(), err, "image", "")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, img)
}

func (s *Service) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	provider, ok := s.ownListing(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	img, err := s.db.GetImage(ctx, id)
	if err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "image", id)
		return
	}
	if img.ProviderID != provider.ID {
		httputil.NotFound(w, "image not found")
		return
	}

	if objectPath, ok := media.ObjectPathOf(s.images, img.StoragePath, img.ImageURL); ok && s.images != nil {
		if err := s.images.Remove(ctx, objectPath); err != nil {
			s.writeStorageError(w, r, err, "image delete failed")
			return
		}
	}
	if err := s.db.DeleteImage(ctx, img.ID); err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "image", img.ID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleListStories(w http.ResponseWriter, r *http.Request) {
	provider, ok := s.ownListing(w, r)
	if !ok {
		return
	}
	activeAt := s.now().UTC()
	all, err := s.db.ListProviderStories(r.Context(), provider.ID, &activeAt)
	if err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "stories", provider.ID)
		return
	}
	if all == nil {
		all = []database.Story{}
	}
	httputil.WriteJSON(w, http.StatusOK, all)
}

func (s *Service) handleCreateStory(w http.ResponseWriter, r *http.Request) {
	provider, ok := s.ownListing(w, r)
	if !ok {
		return
	}
	if s.stories == nil {
		httputil.WriteError(w, r, svcerrors.Unavailable("story storage is not configured", nil))
		return
	}
	ctx := r.Context()

	upload, values, err := media.ReadUpload(w, r, uploadField, s.maxStoryBytes, media.KindImage, media.KindVideo)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	text, err := caption(values)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	objectPath := media.ObjectPath(provider.ID, upload.ContentType)
	url, err := s.stories.Put(ctx, objectPath, upload.Data, upload.ContentType)
	if err != nil {
		s.writeStorageError(w, r, err, "story upload failed")
		return
	}

	story, err := s.db.CreateStory(ctx, database.StoryInput{
		ProviderID:  provider.ID,
		MediaURL:    url,
		MediaType:   upload.Kind,
		StoragePath: objectPath,
		Caption:     text,
		ExpiresAt:   s.now().UTC().Add(s.storyTTL),
	})
	if err != nil {
		s.discard(ctx, s.stories, objectPath)
		commonservice.WriteStoreError(w, r, s.Logger(), err, "story", "")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, story)
}

func (s *Service) handleDeleteStory(w http.ResponseWriter, r *http.Request) {
	provider, ok := s.ownListing(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	story, err := s.db.GetStory(ctx, id)
	if err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "story", id)
		return
	}
	if story.ProviderID != provider.ID {
		httputil.NotFound(w, "story not found")
		return
	}

	if objectPath, ok := media.ObjectPathOf(s.stories, story.StoragePath, story.MediaURL); ok && s.stories != nil {
		if err := s.stories.Remove(ctx, objectPath); err != nil {
			s.writeStorageError(w, r, err, "story delete failed")
			return
		}
	}
	if err := s.db.DeleteStory(ctx, story.ID); err != nil {
		commonservice.WriteStoreError(w, r, s.Logger(), err, "story", story.ID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
