package vec

// Vec2 представляет 2D координаты на горизонтальной плоскости
type Vec2 struct {
	X, Y int
}

// ToRegionCoords преобразует координаты ячейки в координаты региона заданного размера
func (v Vec2) ToRegionCoords(size int) Vec2 {
	if size <= 0 {
		size = 1
	}
	return Vec2{X: floorDiv(v.X, size), Y: floorDiv(v.Y, size)}
}

// floorDiv делит с округлением вниз, корректно для отрицательных координат
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
