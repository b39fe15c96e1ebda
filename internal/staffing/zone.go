package staffing

import "time"

// zone is the fixed reference time zone for all captured timestamps and
// hourly bucketing. Source pages publish schedules in JST.
var zone = loadZone()

func loadZone() *time.Location {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		return time.FixedZone("JST", 9*60*60)
	}
	return loc
}

// Zone returns the reference time zone.
func Zone() *time.Location {
	return zone
}
