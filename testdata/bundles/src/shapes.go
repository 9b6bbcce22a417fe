package shapes

//capwire:capability AreaCalculatorComponent
type AreaCalculator interface {
	Area() float64
}

//capwire:provider AreaCalculatorComponent
type RectangleArea[C interface {
	Width() float64
	Height() float64
}] struct{}

func (RectangleArea[C]) Area(c C) float64 { return c.Width() * c.Height() }

//capwire:provider AreaCalculatorComponent
type CircleArea[C interface{ Radius() float64 }] struct{}

func (CircleArea[C]) Area(c C) float64 { return 3.141592653589793 * c.Radius() * c.Radius() }

//capwire:bundle
//capwire:delegate AreaCalculatorComponent=CircleArea
type RoundDefaults struct{}

//capwire:context
//capwire:use RoundDefaults
type Circle struct {
	radius float64
}

//capwire:context
//capwire:use RoundDefaults
//capwire:delegate AreaCalculatorComponent=RectangleArea
type Rectangle struct {
	width, height float64
}
