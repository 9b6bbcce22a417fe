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

//capwire:context
//capwire:delegate AreaCalculatorComponent=RectangleArea
type Rectangle struct {
	width, height float64
}
