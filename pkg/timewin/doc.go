// Package timewin decides whether an instant lies inside an owner's weekly
// scan windows. Each window names a weekday, a wall-clock start time, and a
// duration in hours, all interpreted in UTC.
package timewin
