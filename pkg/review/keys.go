package review

import (
	"path"
	"strings"
	"time"
)

// LandingKey returns the landing-zone blob key holding the reviews fetched
// for app by the run that started at runAt.
//
//	android: {prefix}/{YYYY-MM-DD}/{id}_{country}_{lang}.json
//	ios:     {prefix}/{id}_{country}_{YYYYMMDD_HHMMSS}.json
func LandingKey(p Platform, prefix string, app TrackedApp, runAt time.Time) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if p == IOS {
		return path.Join(prefix, app.ID+"_"+app.Country+"_"+runAt.Format("20060102_150405")+".json")
	}
	return path.Join(prefix, runAt.Format("2006-01-02"), app.ID+"_"+app.Country+"_"+app.Lang+".json")
}

// BronzeKey mirrors a landing key into the bronze zone.
func BronzeKey(landingKey string) string {
	return strings.TrimSuffix(landingKey, ".json") + ".parquet"
}

// IsLandingKeyOf reports whether key has the shape LandingKey gives app's
// blobs under prefix, for any run time.
func IsLandingKeyOf(p Platform, prefix string, app TrackedApp, key string) bool {
	rel := key
	if prefix = strings.TrimSuffix(prefix, "/"); prefix != "" {
		var ok bool
		if rel, ok = strings.CutPrefix(key, prefix+"/"); !ok {
			return false
		}
	}
	dir, base := path.Split(rel)

	if p == IOS {
		stamp, ok := strings.CutPrefix(base, app.ID+"_"+app.Country+"_")
		if dir != "" || !ok {
			return false
		}
		stamp, ok = strings.CutSuffix(stamp, ".json")
		if !ok {
			return false
		}
		_, err := time.Parse("20060102_150405", stamp)
		return err == nil
	}

	if base != app.ID+"_"+app.Country+"_"+app.Lang+".json" {
		return false
	}
	_, err := time.Parse("2006-01-02", strings.TrimSuffix(dir, "/"))
	return err == nil
}
