package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/linkcapture/internal/capture"
)

const tooManyRequests = "Too many requests. Please try again later."

type previewRequest struct {
	URL string `json:"url"`
}

func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, ClassFetch, clientIdentity(r), tooManyRequests) {
		return
	}
	var req previewRequest
	if !decodeJSON(w, r, maxJSONBody, &req) {
		return
	}
	res, err := s.svc.Preview(r.Context(), req.URL)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if res.Images == nil {
		res.Images = []string{}
	}
	writeJSON(w, http.StatusOK, res)
}

// createRequest accepts the image under either name used by the save form.
type createRequest struct {
	Title             string   `json:"title"`
	URL               string   `json:"url"`
	Description       string   `json:"description"`
	ImageURLOrDataURI string   `json:"imageUrlOrDataUri"`
	ImageURL          string   `json:"imageUrl"`
	Tags              []string `json:"tags"`
}

type createResponse struct {
	Success   bool   `json:"success"`
	Slug      string `json:"slug"`
	CommitSHA string `json:"commitSha"`
	Image     string `json:"image,omitempty"`
	Message   string `json:"message"`
}

func (s *Server) createLink(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, ClassCreate, clientIdentity(r), tooManyRequests) {
		return
	}
	var req createRequest
	if !decodeJSON(w, r, maxCreateBody, &req) {
		return
	}
	image := req.ImageURLOrDataURI
	if image == "" {
		image = req.ImageURL
	}
	res, err := s.svc.Save(r.Context(), capture.Submission{
		Title:       req.Title,
		URL:         req.URL,
		Description: req.Description,
		Image:       image,
		Tags:        req.Tags,
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, createResponse{
		Success:   true,
		Slug:      res.Slug,
		CommitSHA: res.CommitSHA,
		Image:     res.Image,
		Message:   "Link saved successfully",
	})
}

type screenshotResponse struct {
	Success    bool   `json:"success"`
	Screenshot string `json:"screenshot"`
}

func (s *Server) screenshot(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, ClassFetch, clientIdentity(r), tooManyRequests) {
		return
	}
	if !s.svc.HeadlessEnabled() {
		writeError(w, http.StatusServiceUnavailable, "Screenshots are not configured", "")
		return
	}
	shot, err := s.svc.Screenshot(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, screenshotResponse{Success: true, Screenshot: shot})
}

type tagsRequest struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

type tagsResponse struct {
	Tags         []string `json:"tags"`
	ExistingTags []string `json:"existingTags"`
}

func (s *Server) suggestTags(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, ClassFetch, clientIdentity(r), tooManyRequests) {
		return
	}
	if !s.svc.TagsEnabled() {
		writeError(w, http.StatusServiceUnavailable, "Tag suggestions are not configured", "")
		return
	}
	var req tagsRequest
	if !decodeJSON(w, r, maxJSONBody, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "Title is required for tag suggestions", capture.KindValidation)
		return
	}
	tags, vocab, err := s.svc.Tags(r.Context(), req.Title, req.URL, req.Description)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if tags == nil {
		tags = []string{}
	}
	writeJSON(w, http.StatusOK, tagsResponse{Tags: tags, ExistingTags: vocab})
}

type linkResponse struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	CommitSHA string    `json:"commitSha"`
	Branch    string    `json:"branch"`
	Files     []string  `json:"files"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) getLink(w http.ResponseWriter, r *http.Request) {
	entry, err := s.svc.Link(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, linkResponse{
		ID:        entry.ID,
		Slug:      entry.Slug,
		URL:       entry.URL,
		Title:     entry.Title,
		CommitSHA: entry.CommitSHA,
		Branch:    entry.Branch,
		Files:     entry.Files,
		CreatedAt: entry.CreatedAt,
	})
}
