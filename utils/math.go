package utils

import "math"

// StandardGravity is the conventional acceleration due to gravity in m/s^2.
const StandardGravity = 9.80665

// DegToRad converts degrees to radians.
func DegToRad(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// RadToDeg converts radians to degrees.
func RadToDeg(radians float64) float64 {
	return radians * 180 / math.Pi
}
