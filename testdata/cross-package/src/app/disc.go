package app

import "example.com/golden/shapes"

//capwire:context
//capwire:use shapes.RoundDefaults
type Disc struct {
	radius float64
}

var _ shapes.RoundDefaults
