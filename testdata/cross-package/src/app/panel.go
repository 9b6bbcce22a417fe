package app

import "example.com/golden/shapes"

//capwire:context
//capwire:delegate AreaCalculatorComponent=shapes.RectangleArea
//capwire:getter height=size.h
type Panel struct {
	width float64
	size  struct{ h float64 }
}

var _ = shapes.AreaCalculator(nil)
