package resolve

import (
	"context"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/capwire/internal/diag"
	"github.com/jward/capwire/internal/extract"
	"github.com/jward/capwire/internal/runtime"
	"github.com/jward/capwire/internal/store"
)

const shapesCore = `package shapes

// AreaCalculator computes the area of a shape.
//capwire:capability AreaCalculatorComponent
type AreaCalculator interface {
	Area() float64
}

//capwire:capability
type Perimeter interface {
	Perimeter() float64
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

//capwire:provider AreaCalculatorComponent
type ScaledArea[C interface{ Factor() float64 }, Inner AreaCalculatorProvider[C]] struct{}

//capwire:provider PerimeterComponent
type SquarePerimeter[C interface{ Area() float64 }] struct{}
`

const shapesContexts = `package shapes

//capwire:context
//capwire:delegate AreaCalculatorComponent=RectangleArea
type Rectangle struct {
	width, height float64
}

//capwire:context
//capwire:delegate AreaCalculatorComponent=CircleArea
type Circle struct {
	radius float64
}
`

func facts(t *testing.T, path, src, importPath string) *store.FileFacts {
	t.Helper()
	f, err := extract.Extract(context.Background(), path, []byte(src))
	require.NoError(t, err)
	f.File.ImportPath = importPath
	return f
}

// shapes builds a universe for package shapes from the core declarations
// plus extra files.
func shapes(t *testing.T, extra ...string) *Universe {
	t.Helper()
	files := []*store.FileFacts{facts(t, "shapes/core.go", shapesCore, "example.com/demo/shapes")}
	for i, src := range extra {
		files = append(files, facts(t, "shapes/extra"+string(rune('a'+i))+".go", src, "example.com/demo/shapes"))
	}
	return NewUniverse(files)
}

type predicateFunc func(expr string, env runtime.Env) (bool, error)

func (f predicateFunc) Eval(_ context.Context, expr string, env runtime.Env) (bool, error) {
	return f(expr, env)
}

func resolveUniverse(u *Universe, opts ...Option) *Result {
	return New(opts...).Resolve(context.Background(), u)
}

func diagsOf[T error](l diag.List) []T {
	var out []T
	for _, err := range l {
		var target T
		if errors.As(err, &target) {
			out = append(out, target)
		}
	}
	return out
}

func assertGetter(t *testing.T, value, method, typ, accessor, kind string, g Getter) {
	t.Helper()
	assert.Equal(t, value, g.Value)
	assert.Equal(t, method, g.Method)
	assert.Equal(t, typ, g.Type)
	assert.Equal(t, accessor, g.Accessor)
	assert.Equal(t, kind, g.Kind)
}

func TestResolve_RectangleUsesRectangleArea(t *testing.T) {
	t.Parallel()
	res := resolveUniverse(shapes(t, shapesContexts))
	require.NoError(t, res.Err())

	cr := res.Context("Rectangle")
	require.NotNil(t, cr)
	assert.False(t, cr.Failed)

	b := cr.Binding("AreaCalculatorComponent")
	require.NotNil(t, b)
	assert.Equal(t, "RectangleArea", b.Expr.String())
	assert.Equal(t, SourceDirect, b.Source)
	require.NotNil(t, b.Instance)
	assert.Equal(t, "RectangleArea[Rectangle]", b.Instance.Format(cr.CtxType(), Local))

	require.Len(t, cr.Getters, 2)
	assertGetter(t, "height", "Height", "float64", "height", GetterFromField, cr.Getters[0])
	assertGetter(t, "width", "Width", "float64", "width", GetterFromField, cr.Getters[1])
	assert.Equal(t, "shapes", cr.Getters[0].Scope.Name)
}

func TestResolve_CircleUsesCircleArea(t *testing.T) {
	t.Parallel()
	res := resolveUniverse(shapes(t, shapesContexts))
	require.NoError(t, res.Err())

	cr := res.Context("shapes.Circle")
	require.NotNil(t, cr)
	b := cr.Binding("AreaCalculatorComponent")
	require.NotNil(t, b)
	assert.Equal(t, "CircleArea[Circle]", b.Instance.Format(cr.CtxType(), Local))
	require.Len(t, cr.Getters, 1)
	assert.Equal(t, "radius", cr.Getters[0].Value)
}

func TestResolve_NewShapeLeavesExistingWiringAlone(t *testing.T) {
	t.Parallel()
	before := resolveUniverse(shapes(t, shapesContexts))
	require.NoError(t, before.Err())

	triangle := `package shapes

//capwire:provider AreaCalculatorComponent
type TriangleArea[C interface {
	Base() float64
	Height() float64
}] struct{}

//capwire:context
//capwire:delegate AreaCalculatorComponent=TriangleArea
type Triangle struct {
	base, height float64
}
`
	after := resolveUniverse(shapes(t, shapesContexts, triangle))
	require.NoError(t, after.Err())

	cr := after.Context("Triangle")
	require.NotNil(t, cr)
	assert.Equal(t, "TriangleArea[Triangle]", cr.Binding("AreaCalculatorComponent").Instance.Format(cr.CtxType(), Local))

	for _, name := range []string{"Rectangle", "Circle"} {
		assert.Equal(t,
			before.Context(name).Binding("AreaCalculatorComponent").Instance.Format(name, Local),
			after.Context(name).Binding("AreaCalculatorComponent").Instance.Format(name, Local))
	}
}

func TestResolve_MissingWiringIsUnresolved(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:context
//capwire:require AreaCalculatorComponent
type Hexagon struct {
	side float64
}
`
	res := resolveUniverse(shapes(t, src))
	require.Error(t, res.Err())

	unresolved := diagsOf[*diag.UnresolvedCapabilityError](res.Diagnostics)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "Hexagon", unresolved[0].Context)
	assert.Equal(t, "AreaCalculatorComponent", unresolved[0].Key)
	assert.Empty(t, unresolved[0].RequiredBy)
	assert.True(t, res.Context("Hexagon").Failed)

	var target *diag.UnresolvedCapabilityError
	assert.True(t, errors.As(res.Err(), &target))
}

func TestResolve_ProviderRequiringUnwiredCapability(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:context
//capwire:delegate PerimeterComponent=SquarePerimeter
type Square struct {
	side float64
}
`
	res := resolveUniverse(shapes(t, src))
	unresolved := diagsOf[*diag.UnresolvedCapabilityError](res.Diagnostics)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "AreaCalculatorComponent", unresolved[0].Key)
	assert.Equal(t, "SquarePerimeter", unresolved[0].RequiredBy)
	assert.NotEmpty(t, errors.GetAllHints(res.Diagnostics[0]))
}

func TestResolve_CapabilityRequirementSatisfiedByWiring(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:context
//capwire:delegate AreaCalculatorComponent=RectangleArea
//capwire:delegate PerimeterComponent=SquarePerimeter
type Square struct {
	width, height float64
}
`
	res := resolveUniverse(shapes(t, src))
	require.NoError(t, res.Err())
	assert.Len(t, res.Context("Square").Bindings, 2)
}

func TestResolve_DuplicateDirectEntriesAreAmbiguous(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:context
//capwire:delegate AreaCalculatorComponent=RectangleArea
//capwire:delegate AreaCalculatorComponent=CircleArea
type Odd struct {
	width, height, radius float64
}
`
	res := resolveUniverse(shapes(t, src))
	amb := diagsOf[*diag.AmbiguousProviderError](res.Diagnostics)
	require.Len(t, amb, 1)
	assert.Equal(t, "Odd", amb[0].Context)
	assert.Equal(t, "AreaCalculatorComponent", amb[0].Key)
	assert.ElementsMatch(t, []string{"RectangleArea", "CircleArea"}, amb[0].Choices)
	assert.Nil(t, res.Context("Odd").Binding("AreaCalculatorComponent"))
}

func TestResolve_DirectEntryBeatsBundle(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:bundle
//capwire:delegate AreaCalculatorComponent=CircleArea
type RoundDefaults struct{}

//capwire:context
//capwire:use RoundDefaults
//capwire:delegate AreaCalculatorComponent=RectangleArea
type Rectangle struct {
	width, height float64
}

//capwire:context
//capwire:use RoundDefaults
type Circle struct {
	radius float64
}
`
	res := resolveUniverse(shapes(t, src))
	require.NoError(t, res.Err())

	rect := res.Context("Rectangle").Binding("AreaCalculatorComponent")
	assert.Equal(t, "RectangleArea", rect.Expr.String())
	assert.Equal(t, SourceDirect, rect.Source)

	circle := res.Context("Circle").Binding("AreaCalculatorComponent")
	assert.Equal(t, "CircleArea", circle.Expr.String())
	assert.Equal(t, SourceBundlePrefix+"RoundDefaults", circle.Source)
}

func TestResolve_DisagreeingBundlesAreAmbiguous(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:bundle
//capwire:delegate AreaCalculatorComponent=CircleArea
type Round struct{}

//capwire:bundle
//capwire:delegate AreaCalculatorComponent=RectangleArea
type Boxy struct{}

//capwire:bundle
//capwire:delegate AreaCalculatorComponent=RectangleArea
type AlsoBoxy struct{}

//capwire:context
//capwire:use Round Boxy
type Blob struct {
	width, height, radius float64
}

//capwire:context
//capwire:use Boxy AlsoBoxy
type Box struct {
	width, height float64
}
`
	res := resolveUniverse(shapes(t, src))
	amb := diagsOf[*diag.AmbiguousProviderError](res.Diagnostics)
	require.Len(t, amb, 1)
	assert.Equal(t, "Blob", amb[0].Context)
	assert.Equal(t, []string{"CircleArea (bundle:Round)", "RectangleArea (bundle:Boxy)"}, amb[0].Choices)

	box := res.Context("Box")
	assert.False(t, box.Failed)
	assert.Equal(t, "RectangleArea", box.Binding("AreaCalculatorComponent").Expr.String())
}

func TestResolve_NestedBundleOwnEntriesWin(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:bundle
//capwire:delegate AreaCalculatorComponent=CircleArea
type Base struct{}

//capwire:bundle
//capwire:use Base
//capwire:delegate AreaCalculatorComponent=RectangleArea
type Override struct{}

//capwire:context
//capwire:use Override
type Rectangle struct {
	width, height float64
}
`
	res := resolveUniverse(shapes(t, src))
	require.NoError(t, res.Err())
	b := res.Context("Rectangle").Binding("AreaCalculatorComponent")
	assert.Equal(t, "RectangleArea", b.Expr.String())
	assert.Equal(t, "bundle:Override", b.Source)
}

func TestResolve_BundleCycle(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:bundle
//capwire:use Second
type First struct{}

//capwire:bundle
//capwire:use First
type Second struct{}

//capwire:context
//capwire:use First
type Rectangle struct{}
`
	res := resolveUniverse(shapes(t, src))
	cycles := diagsOf[*diag.CyclicDependencyError](res.Diagnostics)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"First", "Second", "First"}, cycles[0].Cycle)
}

func TestResolve_UndeclaredNames(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:context
//capwire:delegate VolumeComponent=CubeVolume
//capwire:delegate AreaCalculatorComponent=NoSuchProvider
//capwire:use NoSuchBundle
type Cube struct{}
`
	res := resolveUniverse(shapes(t, src))
	undeclared := diagsOf[*diag.UndeclaredError](res.Diagnostics)
	kinds := map[string]string{}
	for _, u := range undeclared {
		kinds[u.Kind] = u.Name
	}
	assert.Equal(t, map[string]string{
		"capability": "VolumeComponent",
		"provider":   "NoSuchProvider",
		"bundle":     "NoSuchBundle",
	}, kinds)
}

func TestResolve_ProviderMismatch(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:context
//capwire:delegate PerimeterComponent=RectangleArea
type Rectangle struct {
	width, height float64
}

//capwire:context
//capwire:delegate AreaCalculatorComponent=Rectangle
type Circle struct {
	radius float64
}
`
	res := resolveUniverse(shapes(t, src))
	mismatches := diagsOf[*diag.ProviderMismatchError](res.Diagnostics)
	require.Len(t, mismatches, 2)

	byContext := map[string]*diag.ProviderMismatchError{}
	for _, m := range mismatches {
		byContext[m.Context] = m
	}
	assert.Equal(t, "AreaCalculatorComponent", byContext["Rectangle"].Implements)
	assert.Equal(t, "PerimeterComponent", byContext["Rectangle"].Key)
	assert.Empty(t, byContext["Circle"].Implements)
}

func TestResolve_Composition(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:context
//capwire:delegate AreaCalculatorComponent=ScaledArea[RectangleArea]
type ScaledRect struct {
	width, height, factor float64
}
`
	res := resolveUniverse(shapes(t, src))
	require.NoError(t, res.Err())

	cr := res.Context("ScaledRect")
	b := cr.Binding("AreaCalculatorComponent")
	assert.Equal(t, "ScaledArea[ScaledRect, RectangleArea[ScaledRect]]", b.Instance.Format(cr.CtxType(), Local))

	var values []string
	for _, g := range cr.Getters {
		values = append(values, g.Value)
	}
	assert.Equal(t, []string{"factor", "height", "width"}, values)
}

func TestResolve_CompositionArity(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:context
//capwire:delegate AreaCalculatorComponent=ScaledArea
type ScaledRect struct {
	factor float64
}
`
	res := resolveUniverse(shapes(t, src))
	unsat := diagsOf[*diag.UnsatisfiedRequirementError](res.Diagnostics)
	require.Len(t, unsat, 1)
	assert.Equal(t, "ScaledArea", unsat[0].Provider)
	assert.Equal(t, "1 inner provider(s)", unsat[0].Requirement)
}

func TestResolve_InnerProviderForWrongKey(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:context
//capwire:delegate AreaCalculatorComponent=ScaledArea[SquarePerimeter]
type ScaledRect struct {
	factor float64
}
`
	res := resolveUniverse(shapes(t, src))
	mismatches := diagsOf[*diag.ProviderMismatchError](res.Diagnostics)
	require.Len(t, mismatches, 1)
	assert.Equal(t, "SquarePerimeter", mismatches[0].Provider)
	assert.Equal(t, "PerimeterComponent", mismatches[0].Implements)
}

func TestResolve_PointerContext(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:context receiver=pointer
//capwire:delegate AreaCalculatorComponent=RectangleArea
type Rectangle struct {
	width, height float64
}
`
	res := resolveUniverse(shapes(t, src))
	require.NoError(t, res.Err())
	cr := res.Context("Rectangle")
	assert.Equal(t, "*Rectangle", cr.CtxType())
	assert.Equal(t, "RectangleArea[*Rectangle]", cr.Binding("AreaCalculatorComponent").Instance.Format(cr.CtxType(), Local))
}

func TestResolve_HandWrittenOperationCollides(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:context
//capwire:delegate AreaCalculatorComponent=RectangleArea
type Rectangle struct {
	width, height float64
}

func (r Rectangle) Area() float64 { return 0 }
`
	res := resolveUniverse(shapes(t, src))
	amb := diagsOf[*diag.AmbiguousProviderError](res.Diagnostics)
	require.Len(t, amb, 1)
	assert.Equal(t, []string{"method Rectangle.Area", "RectangleArea"}, amb[0].Choices)
}

func TestResolve_GetterSources(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:context
//capwire:delegate AreaCalculatorComponent=RectangleArea
//capwire:getter width=side
//capwire:getter height=side
type Square struct {
	side float64
}

//capwire:context
//capwire:delegate AreaCalculatorComponent=RectangleArea
type Banner struct {
	w      float64
	height float64
}

func (b Banner) Width() float64 { return b.w }
`
	res := resolveUniverse(shapes(t, src))
	require.NoError(t, res.Err())

	sq := res.Context("Square")
	require.Len(t, sq.Getters, 2)
	for _, g := range sq.Getters {
		assert.Equal(t, GetterFromDirective, g.Kind)
		assert.Equal(t, "side", g.Accessor)
	}

	banner := res.Context("Banner")
	require.Len(t, banner.Getters, 2)
	assert.Equal(t, GetterFromField, banner.Getters[0].Kind)
	assertGetter(t, "width", "Width", "float64", "Width()", GetterFromMethod, banner.Getters[1])
}

func TestResolve_DuplicateGetter(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:context
//capwire:delegate AreaCalculatorComponent=RectangleArea
//capwire:getter width=w
type Banner struct {
	w, height float64
}

func (b Banner) Width() float64 { return b.w }
`
	res := resolveUniverse(shapes(t, src))
	dups := diagsOf[*diag.DuplicateDeclarationError](res.Diagnostics)
	require.Len(t, dups, 1)
	assert.Equal(t, "getter", dups[0].Kind)
	assert.Equal(t, "width", dups[0].Name)
	require.Len(t, dups[0].Sites, 2)
	assert.Equal(t, "method Banner.Width", dups[0].Sites[0])
}

func TestResolve_MissingAccessor(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:context
//capwire:delegate AreaCalculatorComponent=RectangleArea
type Rectangle struct {
	width  int
}

//capwire:context
//capwire:delegate AreaCalculatorComponent=CircleArea
type Circle struct {
	radius float64
	Radius float64
}

//capwire:context
//capwire:delegate AreaCalculatorComponent=CircleArea
//capwire:getter radius=missing
type Ring struct {
	r float64
}
`
	res := resolveUniverse(shapes(t, src))
	missing := diagsOf[*diag.MissingAccessorError](res.Diagnostics)

	byValue := map[string][]*diag.MissingAccessorError{}
	for _, m := range missing {
		byValue[m.Context+"."+m.Value] = append(byValue[m.Context+"."+m.Value], m)
	}
	require.Len(t, byValue["Rectangle.width"], 1)
	assert.Equal(t, "field width has type int", byValue["Rectangle.width"][0].Detail)
	require.Len(t, byValue["Rectangle.height"], 1)
	assert.Empty(t, byValue["Rectangle.height"][0].Detail)
	require.Len(t, byValue["Circle.radius"], 1)
	assert.Contains(t, byValue["Circle.radius"][0].Detail, "collide")
	require.Len(t, byValue["Ring.radius"], 1)
	assert.Contains(t, byValue["Ring.radius"][0].Detail, "missing is not a field")
}

func TestResolve_ProvidersDisagreeOnValueType(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:provider PerimeterComponent
type CountPerimeter[C interface{ Width() int }] struct{}

//capwire:context
//capwire:delegate AreaCalculatorComponent=RectangleArea
//capwire:delegate PerimeterComponent=CountPerimeter
type Grid struct {
	width, height float64
}
`
	res := resolveUniverse(shapes(t, src))
	missing := diagsOf[*diag.MissingAccessorError](res.Diagnostics)
	require.Len(t, missing, 1)
	assert.Equal(t, "width", missing[0].Value)
	assert.Contains(t, missing[0].Type, "float64")
	assert.Contains(t, missing[0].Type, "int")
}

const measureSource = `package measure

//capwire:capability
type Measure[Unit any] interface {
	Measure() Unit
}

//capwire:provider MeasureComponent
type WidthMeasure[C interface{ Width() Unit }, Unit any] struct{}

//capwire:provider MeasureComponent slot:Unit=int
type PixelMeasure[C interface{ Width() Unit }, Unit any] struct{}
`

func TestResolve_TypeSlots(t *testing.T) {
	t.Parallel()
	src := `package measure

//capwire:context
//capwire:delegate MeasureComponent=WidthMeasure
//capwire:slot Unit=float64
type Box struct {
	width float64
}

//capwire:context
//capwire:delegate MeasureComponent=PixelMeasure
type Sprite struct {
	width int
}
`
	u := NewUniverse([]*store.FileFacts{
		facts(t, "measure/measure.go", measureSource, "example.com/demo/measure"),
		facts(t, "measure/box.go", src, "example.com/demo/measure"),
	})
	res := resolveUniverse(u)
	require.NoError(t, res.Err())

	box := res.Context("Box")
	assert.Equal(t, "WidthMeasure[Box, float64]", box.Binding("MeasureComponent").Instance.Format(box.CtxType(), Local))
	typ, ok := box.Slot("Unit")
	assert.True(t, ok)
	assert.Equal(t, "float64", typ)
	assert.Equal(t, "context Box", box.Slots[0].Origin)

	sprite := res.Context("Sprite")
	assert.Equal(t, "PixelMeasure[Sprite, int]", sprite.Binding("MeasureComponent").Instance.Format(sprite.CtxType(), Local))
	assert.Equal(t, "provider PixelMeasure", sprite.Slots[0].Origin)
	assert.Equal(t, "int", sprite.Getters[0].Type)
}

func TestResolve_TypeSlotConflict(t *testing.T) {
	t.Parallel()
	src := `package measure

//capwire:context
//capwire:delegate MeasureComponent=PixelMeasure
//capwire:slot Unit=float64
type Sprite struct {
	width int
}
`
	u := NewUniverse([]*store.FileFacts{
		facts(t, "measure/measure.go", measureSource, "example.com/demo/measure"),
		facts(t, "measure/sprite.go", src, "example.com/demo/measure"),
	})
	res := resolveUniverse(u)
	conflicts := diagsOf[*diag.TypeSlotConflictError](res.Diagnostics)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "Unit", conflicts[0].Slot)
	assert.Equal(t, []string{"float64", "int"}, conflicts[0].Types)
	assert.Equal(t, []string{"context Sprite", "provider PixelMeasure"}, conflicts[0].Origins)
}

func TestResolve_UnboundSlot(t *testing.T) {
	t.Parallel()
	src := `package measure

//capwire:context
//capwire:delegate MeasureComponent=WidthMeasure
type Box struct {
	width float64
}
`
	u := NewUniverse([]*store.FileFacts{
		facts(t, "measure/measure.go", measureSource, "example.com/demo/measure"),
		facts(t, "measure/box.go", src, "example.com/demo/measure"),
	})
	res := resolveUniverse(u)
	unsat := diagsOf[*diag.UnsatisfiedRequirementError](res.Diagnostics)
	require.NotEmpty(t, unsat)
	for _, d := range unsat {
		assert.Equal(t, "type slot Unit", d.Requirement)
	}
}

func TestResolve_CapabilityCycle(t *testing.T) {
	t.Parallel()
	src := `package loop

//capwire:capability
type Alpha interface{ Alpha() int }

//capwire:capability
type Beta interface{ Beta() int }

//capwire:provider AlphaComponent
type AlphaFromBeta[C interface{ Beta() int }] struct{}

//capwire:provider BetaComponent
type BetaFromAlpha[C interface{ Alpha() int }] struct{}

//capwire:context
//capwire:delegate AlphaComponent=AlphaFromBeta
//capwire:delegate BetaComponent=BetaFromAlpha
type Knot struct{}
`
	res := resolveUniverse(NewUniverse([]*store.FileFacts{facts(t, "loop/loop.go", src, "example.com/demo/loop")}))
	cycles := diagsOf[*diag.CyclicDependencyError](res.Diagnostics)
	require.Len(t, cycles, 1)
	assert.Equal(t, "Knot", cycles[0].Context)
	assert.Equal(t, []string{"AlphaComponent", "BetaComponent", "AlphaComponent"}, cycles[0].Cycle)
}

func TestResolve_WherePredicate(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:provider AreaCalculatorComponent
//capwire:where has_field("radius")
type FieldCircleArea[C interface{ Radius() float64 }] struct{}

//capwire:context
//capwire:delegate AreaCalculatorComponent=FieldCircleArea
type Circle struct {
	radius float64
}

//capwire:context
//capwire:delegate AreaCalculatorComponent=FieldCircleArea
type Blob struct {
	r float64
}

func (b Blob) Radius() float64 { return b.r }
`
	var seen []string
	pred := predicateFunc(func(expr string, env runtime.Env) (bool, error) {
		seen = append(seen, env.ContextName()+":"+expr)
		return env.HasField("radius"), nil
	})
	res := resolveUniverse(shapes(t, src), WithPredicate(pred))

	assert.ElementsMatch(t, []string{`Blob:has_field("radius")`, `Circle:has_field("radius")`}, seen)
	unsat := diagsOf[*diag.UnsatisfiedRequirementError](res.Diagnostics)
	require.Len(t, unsat, 1)
	assert.Equal(t, "Blob", unsat[0].Context)
	assert.Equal(t, `where has_field("radius")`, unsat[0].Requirement)
	assert.False(t, res.Context("Circle").Failed)
}

func TestResolve_WherePredicateWithRisor(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:provider AreaCalculatorComponent
//capwire:where has_field("radius") && wired("AreaCalculatorComponent")
type FieldCircleArea[C interface{ Radius() float64 }] struct{}

//capwire:context
//capwire:delegate AreaCalculatorComponent=FieldCircleArea
type Circle struct {
	radius float64
}
`
	res := resolveUniverse(shapes(t, src))
	require.NoError(t, res.Err())
}

func TestResolve_CapabilityEmbedMustBeWired(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:capability
type Labelled interface {
	AreaCalculator
	Label() string
}

//capwire:provider LabelledComponent
type NameLabel[C interface{ Name() string }] struct{}

//capwire:context
//capwire:delegate LabelledComponent=NameLabel
type Tag struct {
	name string
}
`
	res := resolveUniverse(shapes(t, src))
	unresolved := diagsOf[*diag.UnresolvedCapabilityError](res.Diagnostics)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "AreaCalculatorComponent", unresolved[0].Key)
	assert.Equal(t, "Labelled", unresolved[0].RequiredBy)
}

func TestResolve_CrossPackageProvider(t *testing.T) {
	t.Parallel()
	app := `package app

import "example.com/demo/shapes"

//capwire:context
//capwire:delegate AreaCalculatorComponent=shapes.RectangleArea
type Panel struct {
	width, height float64
}
`
	u := NewUniverse([]*store.FileFacts{
		facts(t, "shapes/core.go", shapesCore, "example.com/demo/shapes"),
		facts(t, "app/panel.go", app, "example.com/demo/app"),
	})
	res := resolveUniverse(u)
	require.NoError(t, res.Err())

	cr := res.Context("app.Panel")
	require.NotNil(t, cr)
	in := cr.Binding("AreaCalculatorComponent").Instance
	assert.Equal(t, "shapes", in.Provider.Pkg.Name)
	assert.Len(t, cr.Getters, 2)
}

func TestResolve_BundleFromAnotherPackage(t *testing.T) {
	t.Parallel()
	bundles := `package shapes

//capwire:bundle
//capwire:delegate AreaCalculatorComponent=CircleArea
type RoundDefaults struct{}
`
	app := `package app

import "example.com/demo/shapes"

//capwire:context
//capwire:use shapes.RoundDefaults
type Disc struct {
	radius float64
}
`
	u := NewUniverse([]*store.FileFacts{
		facts(t, "shapes/core.go", shapesCore, "example.com/demo/shapes"),
		facts(t, "shapes/bundles.go", bundles, "example.com/demo/shapes"),
		facts(t, "app/disc.go", app, "example.com/demo/app"),
	})
	res := resolveUniverse(u)
	require.NoError(t, res.Err())

	cr := res.Context("app.Disc")
	require.NotNil(t, cr)
	b := cr.Binding("AreaCalculatorComponent")
	require.NotNil(t, b)
	assert.Equal(t, "shapes.CircleArea", b.Expr.String())
	assert.Equal(t, SourceBundlePrefix+"RoundDefaults", b.Source)
	require.NotNil(t, b.Instance)
	assert.Equal(t, "shapes", b.Instance.Provider.Pkg.Name)
	assert.Equal(t, "CircleArea[Disc]", b.Instance.Format(cr.CtxType(), Local))
	require.Len(t, cr.Getters, 1)
	assertGetter(t, "radius", "Radius", "float64", "radius", GetterFromField, cr.Getters[0])
}

func TestResolve_SameProviderNameInTwoPackagesIsAmbiguous(t *testing.T) {
	t.Parallel()
	round := `package round

//capwire:provider AreaCalculatorComponent
type Impl[C interface{ Radius() float64 }] struct{}

//capwire:bundle
//capwire:delegate AreaCalculatorComponent=Impl
type Defaults struct{}
`
	boxy := `package boxy

//capwire:provider AreaCalculatorComponent
type Impl[C interface{ Width() float64 }] struct{}

//capwire:bundle
//capwire:delegate AreaCalculatorComponent=Impl
type Defaults struct{}
`
	app := `package app

import (
	"example.com/demo/boxy"
	"example.com/demo/round"
)

//capwire:context
//capwire:use round.Defaults boxy.Defaults
type Widget struct {
	width, radius float64
}
`
	u := NewUniverse([]*store.FileFacts{
		facts(t, "shapes/core.go", shapesCore, "example.com/demo/shapes"),
		facts(t, "round/round.go", round, "example.com/demo/round"),
		facts(t, "boxy/boxy.go", boxy, "example.com/demo/boxy"),
		facts(t, "app/widget.go", app, "example.com/demo/app"),
	})
	res := resolveUniverse(u)
	amb := diagsOf[*diag.AmbiguousProviderError](res.Diagnostics)
	require.Len(t, amb, 1)
	assert.Equal(t, "Widget", amb[0].Context)
	assert.Equal(t, "AreaCalculatorComponent", amb[0].Key)
	assert.Equal(t, []string{"boxy.Impl (bundle:Defaults)", "round.Impl (bundle:Defaults)"}, amb[0].Choices)

	cr := res.Context("app.Widget")
	require.NotNil(t, cr)
	assert.True(t, cr.Failed)
	assert.Nil(t, cr.Binding("AreaCalculatorComponent"))
}

func TestResolve_QualifiedAndLocalNamesForOneProviderAgree(t *testing.T) {
	t.Parallel()
	bundles := `package shapes

//capwire:bundle
//capwire:delegate AreaCalculatorComponent=RectangleArea
type Boxy struct{}
`
	app := `package app

import "example.com/demo/shapes"

//capwire:bundle
//capwire:delegate AreaCalculatorComponent=shapes.RectangleArea
type AlsoBoxy struct{}

//capwire:context
//capwire:use shapes.Boxy AlsoBoxy
type Panel struct {
	width, height float64
}
`
	u := NewUniverse([]*store.FileFacts{
		facts(t, "shapes/core.go", shapesCore, "example.com/demo/shapes"),
		facts(t, "shapes/bundles.go", bundles, "example.com/demo/shapes"),
		facts(t, "app/panel.go", app, "example.com/demo/app"),
	})
	res := resolveUniverse(u)
	require.NoError(t, res.Err())
	assert.Empty(t, diagsOf[*diag.AmbiguousProviderError](res.Diagnostics))

	b := res.Context("app.Panel").Binding("AreaCalculatorComponent")
	require.NotNil(t, b)
	assert.Equal(t, "shapes.RectangleArea", b.Expr.String())
	assert.Equal(t, SourceBundlePrefix+"Boxy", b.Source)
	require.NotNil(t, b.Instance)
	assert.Equal(t, "shapes", b.Instance.Provider.Pkg.Name)
}

func TestResolve_UnrelatedCapabilityWithSameOperationName(t *testing.T) {
	t.Parallel()
	ui := `package ui

//capwire:capability
type Sizer interface {
	Width() int
}
`
	u := NewUniverse([]*store.FileFacts{
		facts(t, "shapes/core.go", shapesCore, "example.com/demo/shapes"),
		facts(t, "shapes/contexts.go", shapesContexts, "example.com/demo/shapes"),
		facts(t, "ui/sizer.go", ui, "example.com/demo/ui"),
	})
	res := resolveUniverse(u)
	require.NoError(t, res.Err())

	cr := res.Context("Rectangle")
	require.NotNil(t, cr)
	assert.False(t, cr.Failed)
	require.Len(t, cr.Getters, 2)
	assertGetter(t, "height", "Height", "float64", "height", GetterFromField, cr.Getters[0])
	assertGetter(t, "width", "Width", "float64", "width", GetterFromField, cr.Getters[1])
}

func TestResolve_OperationSignatureMustMatch(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:capability
type Sizer interface {
	Width() int
}
`
	res := resolveUniverse(shapes(t, shapesContexts, src))
	require.NoError(t, res.Err())
	assert.Len(t, res.Context("Rectangle").Getters, 2)
}

const labelSource = `package app

import (
	"fmt"

	"example.com/demo/shapes"
)

//capwire:capability
type Label interface {
	Label() string
}

//capwire:provider LabelComponent
type AreaLabel[C interface{ Area() float64 }] struct{}

func (AreaLabel[C]) Label(c C) string { return fmt.Sprintf("%.1f", c.Area()) }

var _ shapes.AreaCalculator
`

func TestResolve_CapabilityRequirementFromImportedPackage(t *testing.T) {
	t.Parallel()
	tiles := `package app

import "example.com/demo/shapes"

//capwire:context
//capwire:delegate LabelComponent=AreaLabel
//capwire:delegate AreaCalculatorComponent=shapes.RectangleArea
type Tile struct {
	width, height float64
}

//capwire:context
//capwire:delegate LabelComponent=AreaLabel
type Badge struct{}

var _ shapes.AreaCalculator = Tile{}
`
	u := NewUniverse([]*store.FileFacts{
		facts(t, "shapes/core.go", shapesCore, "example.com/demo/shapes"),
		facts(t, "app/label.go", labelSource, "example.com/demo/app"),
		facts(t, "app/tiles.go", tiles, "example.com/demo/app"),
	})
	res := resolveUniverse(u)

	assert.False(t, res.Context("app.Tile").Failed)
	unresolved := diagsOf[*diag.UnresolvedCapabilityError](res.Diagnostics)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "Badge", unresolved[0].Context)
	assert.Equal(t, "AreaCalculatorComponent", unresolved[0].Key)
	assert.Equal(t, "AreaLabel", unresolved[0].RequiredBy)
}

func TestResolve_OperationOfSeveralCapabilities(t *testing.T) {
	t.Parallel()
	geo := `package geo

//capwire:capability
type Surface interface {
	Area() float64
}
`
	label := strings.Replace(labelSource, "\t\"example.com/demo/shapes\"\n",
		"\t\"example.com/demo/geo\"\n\t\"example.com/demo/shapes\"\n", 1) + "\nvar _ geo.Surface\n"
	require.Contains(t, label, `"example.com/demo/geo"`)
	u := NewUniverse([]*store.FileFacts{
		facts(t, "shapes/core.go", shapesCore, "example.com/demo/shapes"),
		facts(t, "geo/surface.go", geo, "example.com/demo/geo"),
		facts(t, "app/label.go", label, "example.com/demo/app"),
	})
	res := resolveUniverse(u)

	unsat := diagsOf[*diag.UnsatisfiedRequirementError](res.Diagnostics)
	require.Len(t, unsat, 1)
	assert.Equal(t, "AreaLabel", unsat[0].Provider)
	assert.Equal(t, "LabelComponent", unsat[0].Key)
	assert.Contains(t, unsat[0].Detail, "AreaCalculatorComponent")
	assert.Contains(t, unsat[0].Detail, "SurfaceComponent")
}

func TestResolve_InvalidDirectives(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:context
//capwire:bogus
type Rectangle struct{}

//capwire:capability
//capwire:getter width=w
type Sized interface{ Size() int }

//capwire:provider
type NoKey[C any] struct{}
`
	res := resolveUniverse(shapes(t, src))
	invalid := diagsOf[*diag.InvalidDirectiveError](res.Diagnostics)
	decls := map[string]bool{}
	for _, d := range invalid {
		decls[d.Decl] = true
	}
	assert.Equal(t, map[string]bool{"Rectangle": true, "Sized": true, "NoKey": true}, decls)
}

func TestResolve_DuplicateCapabilityKey(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:capability AreaCalculatorComponent
type Surface interface{ Surface() float64 }
`
	res := resolveUniverse(shapes(t, src))
	dups := diagsOf[*diag.DuplicateDeclarationError](res.Diagnostics)
	require.Len(t, dups, 1)
	assert.Equal(t, "capability key", dups[0].Kind)
	assert.Equal(t, "AreaCalculatorComponent", dups[0].Name)
}

func TestResolve_Deterministic(t *testing.T) {
	t.Parallel()
	src := `package shapes

//capwire:context
//capwire:delegate AreaCalculatorComponent=RectangleArea
//capwire:delegate AreaCalculatorComponent=CircleArea
type Odd struct{}
`
	first := resolveUniverse(shapes(t, shapesContexts, src)).Rows()
	for i := 0; i < 5; i++ {
		again := resolveUniverse(shapes(t, shapesContexts, src)).Rows()
		assert.Equal(t, first, again)
	}
}

func TestResult_Rows(t *testing.T) {
	t.Parallel()
	res := resolveUniverse(shapes(t, shapesContexts))
	rows := res.Rows()

	require.Len(t, rows.Entries, 2)
	assert.Equal(t, store.DelegationEntry{
		Package: "shapes", Context: "Circle", Key: "AreaCalculatorComponent",
		Provider: "CircleArea", Source: SourceDirect, Instantiation: "CircleArea[Circle]",
	}, rows.Entries[0])
	assert.Len(t, rows.Getters, 3)
	assert.Empty(t, rows.Diagnostics)
}
