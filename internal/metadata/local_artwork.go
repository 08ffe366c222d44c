package metadata

import (
	"path/filepath"
	"strings"

	"github.com/nexamediaserver/server-sub005/internal/models"
)

// artworkExtensions lists the image extensions to check for each artwork name.
var artworkExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// DetectLocalArtwork looks next to a media file for artwork following the
// Plex/Jellyfin/Kodi naming conventions. Only kinds that were found are set.
func DetectLocalArtwork(mediaFilePath string, itemType models.ItemType) map[models.ArtworkKind]string {
	dir := filepath.Dir(mediaFilePath)
	base := strings.TrimSuffix(filepath.Base(mediaFilePath), filepath.Ext(mediaFilePath))

	// Priority order: <filename>-poster > poster > movie-poster > folder > cover
	posterNames := []string{base + "-poster", "poster", "movie-poster", "folder", "cover"}
	switch itemType {
	case models.ItemTypeShow, models.ItemTypeSeason:
		posterNames = append(posterNames, "show")
	case models.ItemTypeAlbum, models.ItemTypeTrack:
		posterNames = append(posterNames, "album", "front")
	}
	backdropNames := []string{base + "-fanart", "backdrop", "fanart", "background", base + "-backdrop"}
	logoNames := []string{base + "-logo", "logo", "clearlogo"}

	found := map[models.ArtworkKind]string{}
	set := func(kind models.ArtworkKind, names []string) {
		if p := findArtworkFile(dir, names); p != "" {
			found[kind] = p
		}
	}
	set(models.ArtworkPoster, posterNames)
	set(models.ArtworkBackdrop, backdropNames)
	set(models.ArtworkLogo, logoNames)
	if itemType == models.ItemTypeEpisode {
		set(models.ArtworkThumbnail, []string{base + "-thumb", base})
	}
	if len(found) == 0 {
		return nil
	}
	return found
}

// findArtworkFile checks dir for any of baseNames with any of the standard
// image extensions and returns the first hit.
func findArtworkFile(dir string, baseNames []string) string {
	for _, baseName := range baseNames {
		for _, ext := range artworkExtensions {
			for _, candidate := range []string{baseName + ext, baseName + strings.ToUpper(ext)} {
				path := filepath.Join(dir, candidate)
				if fileExists(path) {
					return path
				}
			}
		}
	}
	return ""
}
