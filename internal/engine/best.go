package engine

import "github.com/rewired-gh/polyedge/internal/models"

// BestExecution picks the cheapest YES and the cheapest NO independently.
// Ties go to the line that comes first. With no lines there is no pair.
func BestExecution(lines []models.Line) (models.BestPair, bool) {
	if len(lines) == 0 {
		return models.BestPair{}, false
	}

	pair := models.BestPair{
		Yes: models.BestPrice{Price: lines[0].Yes.Value, Venue: lines[0].Venue},
		No:  models.BestPrice{Price: lines[0].No.Value, Venue: lines[0].Venue},
	}
	for _, l := range lines[1:] {
		if l.Yes.Value < pair.Yes.Price {
			pair.Yes = models.BestPrice{Price: l.Yes.Value, Venue: l.Venue}
		}
		if l.No.Value < pair.No.Price {
			pair.No = models.BestPrice{Price: l.No.Value, Venue: l.Venue}
		}
	}
	return pair, true
}
