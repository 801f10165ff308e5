package allowance

import "time"

// =============================================================================
// SUBMISSION DEADLINE
// =============================================================================

// Rides for month M must be submitted by day policy.DeadlineDay of month M+1
// (payroll cutoff). A ride dated 2024-03-20 with deadline day 15 is
// submittable through the whole of 2024-04-15; December rolls into January
// of the following year. Deletion uses the same cutoff against the ride's
// original date, so rides cannot be manipulated after payroll closed.

// DeadlineFor returns the last calendar day on which a ride with the given
// date can still be submitted or deleted.
func DeadlineFor(rideDate time.Time, deadlineDay int) time.Time {
	year, month := rideDate.Year(), rideDate.Month()
	if month == time.December {
		return Date(year+1, time.January, deadlineDay)
	}
	return Date(year, month+1, deadlineDay)
}

// cutoffFor is the first instant at which the deadline has passed: midnight
// after the deadline day. Submission at 23:59:59 on the deadline day is
// accepted; one second into the next day is not.
func cutoffFor(rideDate time.Time, deadlineDay int) time.Time {
	return DeadlineFor(rideDate, deadlineDay).AddDate(0, 0, 1)
}

// PastDeadline reports whether now is beyond the cutoff for rideDate.
func PastDeadline(rideDate time.Time, deadlineDay int, now time.Time) bool {
	return !now.Before(cutoffFor(rideDate, deadlineDay))
}
