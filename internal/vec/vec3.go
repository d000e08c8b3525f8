package vec

import "math"

// Vec3 представляет трехмерный вектор с целочисленными координатами.
// Используется для квантованных ячеек сетки.
type Vec3 struct {
	X int
	Y int
	Z int
}

// Vec3Float представляет трехмерный вектор с плавающими координатами
type Vec3Float struct {
	X float64
	Y float64
	Z float64
}

// Add складывает два вектора
func (v Vec3Float) Add(other Vec3Float) Vec3Float {
	return Vec3Float{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub вычитает вектор
func (v Vec3Float) Sub(other Vec3Float) Vec3Float {
	return Vec3Float{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Mul умножает вектор на скаляр
func (v Vec3Float) Mul(scalar float64) Vec3Float {
	return Vec3Float{X: v.X * scalar, Y: v.Y * scalar, Z: v.Z * scalar}
}

// Dot скалярное произведение
func (v Vec3Float) Dot(other Vec3Float) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Length возвращает длину вектора
func (v Vec3Float) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// IsZero сообщает, является ли вектор нулевым
func (v Vec3Float) IsZero() bool {
	return v.X == 0 && v.Y == 0 && v.Z == 0
}

// Normalized возвращает нормализованный вектор
func (v Vec3Float) Normalized() Vec3Float {
	length := v.Length()
	if length == 0 {
		return Vec3Float{}
	}
	return Vec3Float{X: v.X / length, Y: v.Y / length, Z: v.Z / length}
}

// DistanceTo вычисляет расстояние до другой точки
func (v Vec3Float) DistanceTo(other Vec3Float) float64 {
	return v.Sub(other).Length()
}

// AngleDegrees возвращает угол между векторами в градусах (0..180).
// Для нулевого вектора угол считается равным нулю.
func (v Vec3Float) AngleDegrees(other Vec3Float) float64 {
	lv, lo := v.Length(), other.Length()
	if lv == 0 || lo == 0 {
		return 0
	}
	cos := v.Dot(other) / (lv * lo)
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return math.Acos(cos) * 180 / math.Pi
}

// Floor квантует вектор в ячейку сетки заданного размера
func (v Vec3Float) Floor(cellSize float64) Vec3 {
	return Vec3{
		X: int(math.Floor(v.X / cellSize)),
		Y: int(math.Floor(v.Y / cellSize)),
		Z: int(math.Floor(v.Z / cellSize)),
	}
}
