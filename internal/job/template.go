package job

import "appforge/internal/project"

// DefaultTemplate is the minimal Next.js starter used when an app has
// no stored files. A real deployment usually supplies a richer template
// directory via project.ReadTree.
func DefaultTemplate() []project.File {
	return []project.File{
		{
			Name: "package.json",
			Content: `{
  "name": "appforge-app",
  "private": true,
  "scripts": {
    "dev": "next dev",
    "build": "next build",
    "start": "next start",
    "lint": "next lint"
  },
  "dependencies": {
    "next": "14.2.5",
    "react": "^18.3.1",
    "react-dom": "^18.3.1"
  },
  "devDependencies": {
    "@types/node": "^20",
    "@types/react": "^18",
    "@types/react-dom": "^18",
    "autoprefixer": "^10.4.19",
    "postcss": "^8.4.38",
    "tailwindcss": "^3.4.4",
    "typescript": "^5"
  }
}
`,
		},
		{
			Name: "tsconfig.json",
			Content: `{
  "compilerOptions": {
    "lib": ["dom", "dom.iterable", "esnext"],
    "allowJs": true,
    "skipLibCheck": true,
    "strict": true,
    "noEmit": true,
    "esModuleInterop": true,
    "module": "esnext",
    "moduleResolution": "bundler",
    "resolveJsonModule": true,
    "isolatedModules": true,
    "jsx": "preserve",
    "incremental": true,
    "plugins": [{ "name": "next" }],
    "paths": { "@/*": ["./src/*"] }
  },
  "include": ["next-env.d.ts", "**/*.ts", "**/*.tsx", ".next/types/**/*.ts"],
  "exclude": ["node_modules"]
}
`,
		},
		{
			Name:    "next.config.mjs",
			Content: "/** @type {import('next').NextConfig} */\nconst nextConfig = {};\n\nexport default nextConfig;\n",
		},
		{
			Name:    "tailwind.config.ts",
			Content: "import type { Config } from \"tailwindcss\";\n\nconst config: Config = {\n  content: [\"./src/**/*.{ts,tsx}\"],\n  theme: { extend: {} },\n  plugins: [],\n};\nexport default config;\n",
		},
		{
			Name:    "postcss.config.mjs",
			Content: "export default { plugins: { tailwindcss: {}, autoprefixer: {} } };\n",
		},
		{
			Name:    ".eslintrc.json",
			Content: "{\n  \"extends\": \"next/core-web-vitals\"\n}\n",
		},
		{
			Name:    "src/app/globals.css",
			Content: "@tailwind base;\n@tailwind components;\n@tailwind utilities;\n",
		},
		{
			Name: "src/app/layout.tsx",
			Content: `import type { Metadata } from "next";
import "./globals.css";

export const metadata: Metadata = {
  title: "App",
  description: "Generated app",
};

export default function RootLayout({
  children,
}: Readonly<{ children: React.ReactNode }>) {
  return (
    <html lang="en">
      <body>{children}</body>
    </html>
  );
}
`,
		},
		{
			Name: "src/app/page.tsx",
			Content: `export default function Home() {
  return (
    <main className="flex min-h-screen items-center justify-center">
      <p>Your app will appear here.</p>
    </main>
  );
}
`,
		},
	}
}
