// Package schedule assigns next-scan times to completed hosts. Priority is
// driven by the worst open finding and decays one step per scan toward a
// resting value; the priority maps to an hours-until-next-scan curve with
// linear interpolation between anchor points.
package schedule
