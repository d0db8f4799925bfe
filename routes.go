package auth

// Route is a guarded page of the brewery application
type Route struct {
	Path  string
	Title string
	// Allow is nil for pages open to every signed in user
	Allow *AllowList
}

var (
	salesRoles      = []UserRole{RoleSales, RoleAdmin}
	productionRoles = []UserRole{RoleProduction, RoleAdmin}
	adminRoles      = []UserRole{RoleAdmin}
)

// BreweryRoutes returns the guarded page table
func BreweryRoutes() []Route {
	return []Route{
		{Path: "/", Title: "Dashboard"},

		{Path: "/sales/companies", Title: "Companies", Allow: AllowRoles(salesRoles...)},
		{Path: "/sales/companies/:id", Title: "Company", Allow: AllowRoles(salesRoles...)},
		{Path: "/sales/orders", Title: "Sales Orders", Allow: AllowRoles(salesRoles...)},
		{Path: "/sales/orders/:id", Title: "Sales Order", Allow: AllowRoles(salesRoles...)},
		{Path: "/sales/invoices", Title: "Invoices", Allow: AllowRoles(salesRoles...)},
		{Path: "/sales/invoices/:id", Title: "Invoice", Allow: AllowRoles(salesRoles...)},

		{Path: "/inventory", Title: "Inventory Items"},
		{Path: "/inventory/items/:id", Title: "Inventory Item"},
		{Path: "/inventory/allocations", Title: "Allocations"},
		{Path: "/inventory/suppliers", Title: "Suppliers", Allow: AllowRoles(productionRoles...)},
		{Path: "/inventory/purchase-orders", Title: "Purchase Orders", Allow: AllowRoles(productionRoles...)},
		{Path: "/inventory/purchase-orders/:id", Title: "Purchase Order", Allow: AllowRoles(productionRoles...)},
		{Path: "/inventory/receipts", Title: "Receipts", Allow: AllowRoles(productionRoles...)},

		{Path: "/production/products", Title: "Products", Allow: AllowRoles(productionRoles...)},
		{Path: "/production/recipes", Title: "Recipes", Allow: AllowRoles(productionRoles...)},
		{Path: "/production/batches", Title: "Batches", Allow: AllowRoles(productionRoles...)},
		{Path: "/production/batches/:id", Title: "Batch", Allow: AllowRoles(productionRoles...)},
		{Path: "/production/tasks", Title: "Tasks", Allow: AllowRoles(productionRoles...)},
		{Path: "/production/equipment", Title: "Equipment", Allow: AllowRoles(productionRoles...)},
		{Path: "/production/yeast", Title: "Yeast Lineage", Allow: AllowRoles(productionRoles...)},
		{Path: "/forecasting", Title: "Forecasting", Allow: AllowRoles(productionRoles...)},

		{Path: "/management", Title: "Management Dashboard", Allow: AllowRoles(adminRoles...)},
		{Path: "/reports", Title: "Reports", Allow: AllowRoles(adminRoles...)},
		{Path: "/settings", Title: "Settings", Allow: AllowRoles(adminRoles...)},
	}
}
