package app

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"thisorthat/api/internal/imageproc"
	"thisorthat/api/internal/sources"
	"thisorthat/api/internal/store"
)

const (
	attachUpdated = "updated"
	attachDeleted = "deleted"

	imageContentType = "image/png"
)

type PairAttachment struct {
	PairID     int64  `json:"pair_id"`
	Status     string `json:"status"`
	Option1URL string `json:"option_1_url,omitempty"`
	Option2URL string `json:"option_2_url,omitempty"`
	FailedSide int    `json:"failed_side,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type AttachResult struct {
	Processed int              `json:"processed"`
	Updated   int              `json:"updated"`
	Deleted   int              `json:"deleted"`
	Orphans   []string         `json:"orphans,omitempty"`
	Pairs     []PairAttachment `json:"pairs"`
}

// AttachMissingImages runs AttachImages over every stored pair that lacks an image.
func (s *Service) AttachMissingImages(ctx context.Context) (AttachResult, error) {
	pairs, err := s.store.IncompletePairs(ctx)
	if err != nil {
		return AttachResult{}, fmt.Errorf("load incomplete pairs: %w", err)
	}
	return s.AttachImages(ctx, pairs)
}

// AttachImages gives every incomplete pair both images or removes it. Pairs are handled
// one at a time; URL updates are applied first, then one batched delete of the failed
// pairs and one batched delete of the objects they had already uploaded.
//
// An upload failure stops the pass. The outcomes decided before it are still applied and
// the failure is returned together with that partial result; the pair being attached when
// it happened is left untouched.
func (s *Service) AttachImages(ctx context.Context, pairs []store.Pair) (AttachResult, error) {
	result := AttachResult{Pairs: []PairAttachment{}}
	if s.blobs == nil || s.normalizer == nil {
		return result, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Image storage is not configured", nil)
	}

	var (
		updates   []PairAttachment
		completed []store.Pair
		failedIDs []int64
		orphans   []string
		uploadErr error
	)
	for _, p := range pairs {
		if p.Complete() {
			continue
		}
		result.Processed++

		outcome, uploaded, err := s.attachPair(ctx, p)
		if err != nil {
			uploadErr = err
			break
		}
		result.Pairs = append(result.Pairs, outcome)
		if outcome.Status == attachDeleted {
			failedIDs = append(failedIDs, p.ID)
			orphans = append(orphans, uploaded...)
			continue
		}
		updates = append(updates, outcome)
		p.Option1URL, p.Option2URL = &outcome.Option1URL, &outcome.Option2URL
		completed = append(completed, p)
	}

	for _, u := range updates {
		if err := s.store.UpdatePairURLs(ctx, u.PairID, u.Option1URL, u.Option2URL); err != nil {
			return result, fmt.Errorf("store images for pair %d: %w", u.PairID, err)
		}
		result.Updated++
	}
	s.indexPairs(completed)

	if len(failedIDs) > 0 {
		if err := s.store.DeletePairs(ctx, failedIDs); err != nil {
			return result, fmt.Errorf("delete pairs without images: %w", err)
		}
		result.Deleted = len(failedIDs)
		s.metrics.PairsDeleted.Add(float64(len(failedIDs)))
		s.unindexPairs(failedIDs)

		if len(orphans) > 0 {
			if err := s.blobs.Delete(ctx, orphans); err != nil {
				s.log.Error().Err(err).Strs("objects", orphans).Msg("orphaned images were not removed")
				result.Orphans = orphans
			}
		}
	}

	s.log.Info().
		Int("processed", result.Processed).
		Int("updated", result.Updated).
		Int("deleted", result.Deleted).
		Bool("interrupted", uploadErr != nil).
		Msg("image attachment finished")
	return result, uploadErr
}

// attachPair fills the missing sides of p in order and stops at the first side that
// cannot be illustrated. It also returns the object names that pair owns in blob storage,
// so a deleted pair leaves nothing behind. Only upload failures are returned as errors.
func (s *Service) attachPair(ctx context.Context, p store.Pair) (PairAttachment, []string, error) {
	outcome := PairAttachment{PairID: p.ID, Status: attachUpdated}
	var owned []string

	kind, ok := sources.ParseKind(p.Source)
	if !ok {
		outcome.Status, outcome.FailedSide, outcome.Reason = attachDeleted, 1, fmt.Sprintf("unknown source %q", p.Source)
		return outcome, s.ownedObjects(p), nil
	}

	urls := [2]string{}
	for side := 1; side <= 2; side++ {
		value, existing := p.Option(side)
		if existing != nil && *existing != "" {
			urls[side-1] = *existing
			if name := s.blobs.NameFromURL(*existing); name != "" {
				owned = append(owned, name)
			}
			continue
		}

		name, publicURL, reason, err := s.attachSide(ctx, p, kind, side, value)
		if err != nil {
			return outcome, owned, err
		}
		if reason != "" {
			outcome.Status, outcome.FailedSide, outcome.Reason = attachDeleted, side, reason
			s.log.Warn().Int64("pair_id", p.ID).Int("side", side).Str("value", value).Str("reason", reason).Msg("pair marked for deletion")
			return outcome, owned, nil
		}
		urls[side-1] = publicURL
		owned = append(owned, name)
	}

	outcome.Option1URL, outcome.Option2URL = urls[0], urls[1]
	return outcome, owned, nil
}

// attachSide resolves, normalizes and uploads one option image. A non-empty reason means
// the side has no usable image.
func (s *Service) attachSide(ctx context.Context, p store.Pair, kind sources.Kind, side int, value string) (name, publicURL, reason string, err error) {
	source := kind.String()

	found := s.images.Lookup(ctx, kind, value, p.Type)
	if !found.Found() {
		s.metrics.ImageResolutions.WithLabelValues(source, "not_found").Inc()
		return "", "", "no image found", nil
	}

	data := s.normalizer.Normalize(ctx, found.Image, fitFor(kind))
	if data == nil {
		s.metrics.ImageResolutions.WithLabelValues(source, "unusable").Inc()
		return "", "", "image could not be normalized", nil
	}

	name = blobName(p.ID, side, found.Image)
	publicURL, err = s.blobs.Put(ctx, name, data, imageContentType)
	if err != nil {
		s.metrics.ImageResolutions.WithLabelValues(source, "upload_failed").Inc()
		return "", "", "", fmt.Errorf("upload image for pair %d side %d: %w", p.ID, side, err)
	}
	s.metrics.ImageResolutions.WithLabelValues(source, "stored").Inc()
	return name, publicURL, "", nil
}

func (s *Service) ownedObjects(p store.Pair) []string {
	var names []string
	for side := 1; side <= 2; side++ {
		if _, existing := p.Option(side); existing != nil && *existing != "" {
			if name := s.blobs.NameFromURL(*existing); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

// fitFor letterboxes encyclopedia images, which are often posters or portraits, and
// crops everything else to fill the square.
func fitFor(kind sources.Kind) imageproc.Fit {
	if kind == sources.KindWikipedia {
		return imageproc.FitContain
	}
	return imageproc.FitCover
}

// blobName is "<id padded to 5>_<side><ext>". The extension follows the reference path
// when it names a JPEG and is .png otherwise.
func blobName(pairID int64, side int, ref string) string {
	ext := ".png"
	if !strings.HasPrefix(ref, "data:") {
		refPath := ref
		if u, err := url.Parse(ref); err == nil {
			refPath = u.Path
		}
		lower := strings.ToLower(refPath)
		if strings.HasSuffix(lower, ".jpg") || strings.HasSuffix(lower, ".jpeg") {
			ext = ".jpg"
		}
	}
	return fmt.Sprintf("%05d_%d%s", pairID, side, ext)
}
