package measure

//capwire:capability
type Measure[Unit any] interface {
	Measure() Unit
}

//capwire:provider MeasureComponent slot:Unit=int
type PixelMeasure[C interface{ Width() Unit }, Unit any] struct{}

//capwire:context
//capwire:delegate MeasureComponent=PixelMeasure
//capwire:slot Unit=float64
type Sprite struct {
	width int
}
