// Package compliance fuses PPE and person detections into per-person safety
// verdicts. Everything here is pure and safe for concurrent use.
package compliance

import (
	"strings"

	"ppe-safety-worker/internal/models"
)

// DefaultThreshold is the minimum confidence a detection needs to count
const DefaultThreshold = 0.5

// Missing item names reported in alerts
const (
	ItemHelmet = "helmet"
	ItemJacket = "safety jacket"
)

// Match evaluates every person box against the helmet and jacket detections.
// A PPE item belongs to a person when the centre of its box falls inside the
// person box, edges inclusive. The same item may satisfy several overlapping
// persons. Detections below threshold are ignored. The summary timestamp is
// left zero for the caller to stamp with the frame time.
func Match(persons, helmets, jackets []models.Detection, threshold float64) ([]models.PersonRecord, models.FrameSummary) {
	persons = filter(persons, threshold)
	var summary models.FrameSummary
	if len(persons) == 0 {
		return []models.PersonRecord{}, summary
	}

	helmets = filter(helmets, threshold)
	jackets = filter(jackets, threshold)

	roster := make([]models.PersonRecord, 0, len(persons))
	for _, p := range persons {
		rec := models.PersonRecord{
			Box:           p.Box,
			HelmetPresent: anyCentreInside(p.Box, helmets),
			JacketPresent: anyCentreInside(p.Box, jackets),
		}
		if rec.HelmetPresent && rec.JacketPresent {
			rec.Status = models.StatusSafe
			summary.SafeCount++
		} else {
			rec.Status = models.StatusUnsafe
			summary.UnsafeCount++
		}
		roster = append(roster, rec)
	}
	summary.PersonCount = len(roster)

	return roster, summary
}

func filter(dets []models.Detection, threshold float64) []models.Detection {
	out := make([]models.Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= threshold {
			out = append(out, d)
		}
	}
	return out
}

func anyCentreInside(person models.Box, items []models.Detection) bool {
	for _, item := range items {
		cx, cy := item.Box.Center()
		if person.ContainsPoint(cx, cy) {
			return true
		}
	}
	return false
}

// SplitPPE separates a PPE detector's output into helmets and jackets by
// case-insensitive substring match on the class label. Labels matching
// neither are dropped.
func SplitPPE(dets []models.Detection, helmetLabel, jacketLabel string) (helmets, jackets []models.Detection) {
	helmetLabel = strings.ToLower(helmetLabel)
	jacketLabel = strings.ToLower(jacketLabel)

	for _, d := range dets {
		label := strings.ToLower(d.ClassLabel)
		switch {
		case helmetLabel != "" && strings.Contains(label, helmetLabel):
			helmets = append(helmets, d)
		case jacketLabel != "" && strings.Contains(label, jacketLabel):
			jackets = append(jackets, d)
		}
	}
	return helmets, jackets
}

// Aggregate derives the frame level flags that go into the state store
func Aggregate(roster []models.PersonRecord) (helmetAny, jacketAny bool, overall models.OverallStatus) {
	if len(roster) == 0 {
		return false, false, models.OverallNoPerson
	}

	overall = models.OverallSafe
	for _, rec := range roster {
		helmetAny = helmetAny || rec.HelmetPresent
		jacketAny = jacketAny || rec.JacketPresent
		if rec.Status == models.StatusUnsafe {
			overall = models.OverallUnsafe
		}
	}
	return helmetAny, jacketAny, overall
}

// MissingItems lists the PPE kinds absent on at least one unsafe person
func MissingItems(roster []models.PersonRecord) []string {
	var noHelmet, noJacket bool
	for _, rec := range roster {
		if rec.Status != models.StatusUnsafe {
			continue
		}
		noHelmet = noHelmet || !rec.HelmetPresent
		noJacket = noJacket || !rec.JacketPresent
	}

	missing := make([]string, 0, 2)
	if noHelmet {
		missing = append(missing, ItemHelmet)
	}
	if noJacket {
		missing = append(missing, ItemJacket)
	}
	return missing
}
