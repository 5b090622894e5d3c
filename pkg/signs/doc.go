// Package signs holds the static catalog of road signs the vehicle can
// recognize and the confidence banding used to present recognitions.
package signs
