package measure

//capwire:capability
type Measure[Unit any] interface {
	Measure() Unit
}

//capwire:provider MeasureComponent
type WidthMeasure[C interface{ Width() Unit }, Unit any] struct{}

func (WidthMeasure[C, Unit]) Measure(c C) Unit { return c.Width() }

//capwire:context
//capwire:delegate MeasureComponent=WidthMeasure
//capwire:slot Unit=float64
type Box struct {
	width float64
}
