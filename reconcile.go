package lookout

import "sort"

// Diff compares the previously recorded online set against the players
// reported present this poll. Joined keeps the upstream list order, left is
// sorted; both are stable so reports and announcements are deterministic.
// The present list itself doubles as the refresh set: everyone reported
// present gets their name and last-seen updated, joined or not.
func Diff(prevOnline []string, present []PresentPlayer) (joined, left []string) {
	prev := make(map[string]bool, len(prevOnline))
	for _, uuid := range prevOnline {
		prev[uuid] = true
	}

	current := make(map[string]bool, len(present))
	joined = []string{}
	for _, player := range present {
		if current[player.UUID] {
			continue
		}
		current[player.UUID] = true
		if !prev[player.UUID] {
			joined = append(joined, player.UUID)
		}
	}

	left = []string{}
	for _, uuid := range prevOnline {
		if !current[uuid] {
			left = append(left, uuid)
		}
	}
	sort.Strings(left)

	return joined, left
}
