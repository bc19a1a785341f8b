package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Стандартные ключи атрибутов
const (
	// Сеть
	AttrNetworkNodes = "network.nodes"
	AttrNetworkGates = "network.gates"
	AttrNetworkZones = "network.zones"
	AttrNetworkHash  = "network.hash"

	// Гидравлика
	AttrSolveMode       = "solve.mode"
	AttrSolveIterations = "solve.iterations"
	AttrSolveConverged  = "solve.converged"
	AttrSolveMaxError   = "solve.max_error_m"

	// Расписание
	AttrScheduleID    = "schedule.id"
	AttrScheduleYear  = "schedule.year"
	AttrScheduleWeek  = "schedule.week"
	AttrOperationsNum = "schedule.operations"

	// Затворы и адаптация
	AttrGateID             = "gate.id"
	AttrGateMode           = "gate.mode"
	AttrAdaptationEvent    = "adaptation.event"
	AttrAdaptationStrategy = "adaptation.strategy"
)

// NetworkAttributes возвращает атрибуты сети
func NetworkAttributes(nodes, gates, zones int, hash string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrNetworkNodes, nodes),
		attribute.Int(AttrNetworkGates, gates),
		attribute.Int(AttrNetworkZones, zones),
		attribute.String(AttrNetworkHash, hash),
	}
}

// SolveAttributes возвращает атрибуты гидравлического расчёта
func SolveAttributes(mode string, iterations int, converged bool, maxErrorM float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrSolveMode, mode),
		attribute.Int(AttrSolveIterations, iterations),
		attribute.Bool(AttrSolveConverged, converged),
		attribute.Float64(AttrSolveMaxError, maxErrorM),
	}
}

// ScheduleAttributes возвращает атрибуты расписания
func ScheduleAttributes(id string, year, week, operations int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrScheduleID, id),
		attribute.Int(AttrScheduleYear, year),
		attribute.Int(AttrScheduleWeek, week),
		attribute.Int(AttrOperationsNum, operations),
	}
}

// GateAttributes возвращает атрибуты затвора
func GateAttributes(gateID, mode string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrGateID, gateID),
		attribute.String(AttrGateMode, mode),
	}
}

// AdaptationAttributes возвращает атрибуты адаптационного события
func AdaptationAttributes(event, strategy string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrAdaptationEvent, event),
		attribute.String(AttrAdaptationStrategy, strategy),
	}
}
