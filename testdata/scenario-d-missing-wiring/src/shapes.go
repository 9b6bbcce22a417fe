package shapes

//capwire:capability AreaCalculatorComponent
type AreaCalculator interface {
	Area() float64
}

//capwire:context
//capwire:require AreaCalculatorComponent
type Shelf struct {
	width, depth float64
}
